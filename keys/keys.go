package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Scheme names a signature scheme.
type Scheme string

const (
	Ed25519    Scheme = "ed25519"
	Dilithium3 Scheme = "dilithium3"
)

// ErrBadSignature is returned by Verify when the signature does not check out.
var ErrBadSignature = errors.New("keys: signature verification failed")

// PublicKey is a parsed key string.
type PublicKey struct {
	Scheme Scheme
	Raw    []byte
}

// String renders the key in "<scheme>:<base64>" form.
func (k PublicKey) String() string {
	return string(k.Scheme) + ":" + base64.StdEncoding.EncodeToString(k.Raw)
}

// ParsePublicKey decodes and size-checks a key string.
func ParsePublicKey(s string) (PublicKey, error) {
	scheme, b64, ok := strings.Cut(s, ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("keys: missing scheme in %q", s)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return PublicKey{}, fmt.Errorf("keys: bad base64 in key: %w", err)
	}
	switch Scheme(scheme) {
	case Ed25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKey{}, fmt.Errorf("keys: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
		}
	case Dilithium3:
		if len(raw) != mode3.PublicKeySize {
			return PublicKey{}, fmt.Errorf("keys: dilithium3 public key must be %d bytes, got %d", mode3.PublicKeySize, len(raw))
		}
	default:
		return PublicKey{}, fmt.Errorf("keys: unsupported scheme %q", scheme)
	}
	return PublicKey{Scheme: Scheme(scheme), Raw: raw}, nil
}

// Ed25519Key encodes an Ed25519 public key.
func Ed25519Key(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("keys: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return PublicKey{Scheme: Ed25519, Raw: pub}.String(), nil
}

// Verify checks sig over msg against the key string.
func Verify(key string, msg, sig []byte) error {
	pk, err := ParsePublicKey(key)
	if err != nil {
		return err
	}
	return pk.Verify(msg, sig)
}

// Verify checks sig over msg.
func (k PublicKey) Verify(msg, sig []byte) error {
	switch k.Scheme {
	case Ed25519:
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(k.Raw), msg, sig) {
			return ErrBadSignature
		}
		return nil
	case Dilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(k.Raw); err != nil {
			return err
		}
		digest := sha3.Sum256(msg)
		if len(sig) != mode3.SignatureSize || !mode3.Verify(&pk, digest[:], sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("keys: unsupported scheme %q", k.Scheme)
	}
}

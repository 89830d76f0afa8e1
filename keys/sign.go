package keys

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Signer produces signatures for one key.
type Signer interface {
	// PublicKey returns the key string the signatures verify against.
	PublicKey() string
	Sign(msg []byte) ([]byte, error)
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewEd25519Signer returns a Signer for the Ed25519 key derived from seed.
func NewEd25519Signer(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, err := Ed25519Key(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *ed25519Signer) PublicKey() string { return s.pub }

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

type dilithium3Signer struct {
	priv *mode3.PrivateKey
	pub  string
}

// NewDilithium3Signer returns a Signer for the Dilithium3 key derived from
// seed. Messages are pre-hashed with sha3-256 before signing.
func NewDilithium3Signer(seed []byte) (Signer, error) {
	if len(seed) != mode3.SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes", mode3.SeedSize)
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mode3.NewKeyFromSeed(&s)
	raw, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &dilithium3Signer{priv: sk, pub: PublicKey{Scheme: Dilithium3, Raw: raw}.String()}, nil
}

func (s *dilithium3Signer) PublicKey() string { return s.pub }

func (s *dilithium3Signer) Sign(msg []byte) ([]byte, error) {
	digest := sha3.Sum256(msg)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, digest[:], sig)
	return sig, nil
}

// NewSigner picks the constructor for scheme.
func NewSigner(scheme Scheme, seed []byte) (Signer, error) {
	switch scheme {
	case Ed25519, "":
		return NewEd25519Signer(seed)
	case Dilithium3:
		return NewDilithium3Signer(seed)
	default:
		return nil, fmt.Errorf("keys: unsupported scheme %q", scheme)
	}
}

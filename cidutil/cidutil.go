// Package cidutil computes the self-addressing digests used for event
// identifiers. A digest is a CIDv1 string with the "raw" multicodec wrapping
// a multihash, so the hash algorithm travels with the digest.
package cidutil

import (
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Alg is a multihash code accepted for event digests.
type Alg uint64

const (
	Blake3  Alg = multihash.BLAKE3
	SHA2256 Alg = multihash.SHA2_256
	SHA3256 Alg = multihash.SHA3_256
)

// Default is used when a caller does not pick an algorithm.
const Default = Blake3

// String returns the canonical algorithm name.
func (a Alg) String() string {
	switch a {
	case Blake3:
		return "blake3-256"
	case SHA2256:
		return "sha2-256"
	case SHA3256:
		return "sha3-256"
	default:
		return fmt.Sprintf("multihash-0x%x", uint64(a))
	}
}

// ParseAlg maps a configuration name onto an Alg.
func ParseAlg(name string) (Alg, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "blake3", "blake3-256":
		return Blake3, nil
	case "sha256", "sha2-256":
		return SHA2256, nil
	case "sha3", "sha3-256":
		return SHA3256, nil
	default:
		return 0, fmt.Errorf("unsupported digest algorithm: %q", name)
	}
}

func (a Alg) supported() bool {
	return a == Blake3 || a == SHA2256 || a == SHA3256
}

// Sum returns the CIDv1 (raw) string of data hashed with alg.
func Sum(alg Alg, data []byte) (string, error) {
	if !alg.supported() {
		return "", fmt.Errorf("unsupported digest algorithm: %s", alg)
	}
	mh, err := multihash.Sum(data, uint64(alg), -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// AlgOf reports the hash algorithm a digest string was computed with.
func AlgOf(digest string) (Alg, error) {
	id, err := cid.Decode(digest)
	if err != nil {
		return 0, err
	}
	if !id.Defined() || id.Type() != cid.Raw {
		return 0, fmt.Errorf("digest is not a raw CID: %q", digest)
	}
	alg := Alg(id.Prefix().MhType)
	if !alg.supported() {
		return 0, fmt.Errorf("unsupported digest algorithm: %s", alg)
	}
	return alg, nil
}

// Verify recomputes the digest of data with the algorithm carried by digest.
func Verify(digest string, data []byte) (bool, error) {
	alg, err := AlgOf(digest)
	if err != nil {
		return false, err
	}
	got, err := Sum(alg, data)
	if err != nil {
		return false, err
	}
	return got == digest, nil
}

// Placeholder returns a dummy string with the same length as a digest
// produced by alg. It stands in for the digest fields while they are computed.
func Placeholder(alg Alg) (string, error) {
	d, err := Sum(alg, nil)
	if err != nil {
		return "", err
	}
	return strings.Repeat("#", len(d)), nil
}

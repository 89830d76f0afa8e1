package keys

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// SeedSize is the size of root and derived seeds.
const SeedSize = 32

// DeriveSeed deterministically derives the seed for the key at index in the
// sequence rooted at rootSeed. Index 0 is the inception key; each rotation
// moves one step along the sequence.
func DeriveSeed(rootSeed []byte, index uint32) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", SeedSize)
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("xdao-kel-keeper-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(idx[:])
	return h.Sum(nil), nil
}

// SignerAt returns the Signer for the key at index.
func SignerAt(scheme Scheme, rootSeed []byte, index uint32) (Signer, error) {
	seed, err := DeriveSeed(rootSeed, index)
	if err != nil {
		return nil, err
	}
	return NewSigner(scheme, seed)
}

// Copyright 2025 Certen Protocol
//
// Storage hasher registry: canonical hash-then-concat of typed storage keys
// into the suffixes the host runtime appends after a pallet's storage
// prefix. Every foliate (pkg/foliate) declares its key schema as an ordered
// list of (Family, decoder) pairs; decoding a storage suffix iteratively
// strips one family's hash at a time and hands the remainder to that key's
// decoder, which alone knows how many bytes its encoding consumes.
package hasher

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Family is a fixed storage hasher. Concat families retain the encoded key
// bytes after their hash (so the key is recoverable); pure hash families do
// not and therefore cannot back a reversible foliate.
type Family interface {
	// Name identifies the family for error messages and logging.
	Name() string
	// Width is the fixed byte length of the hash portion of the suffix.
	Width() int
	// Reversible reports whether StripHash can recover the encoded key bytes.
	Reversible() bool
	// Hash returns the bytes this family contributes to a storage suffix for
	// an already SCALE-like-encoded key: hash(encoded) for pure hash
	// families, hash(encoded) || encoded for concat families.
	Hash(encoded []byte) []byte
	// StripHash removes this family's fixed-width hash from the front of
	// suffix and returns what remains (the encoded key bytes immediately
	// followed by any further keys in the tuple). Only valid when
	// Reversible returns true.
	StripHash(suffix []byte) (rest []byte, err error)
}

// identity is the width-0 reversible family: it contributes no hash at all,
// so the suffix is the encoded key bytes unchanged.
type identity struct{}

func (identity) Name() string       { return "Identity" }
func (identity) Width() int         { return 0 }
func (identity) Reversible() bool   { return true }
func (identity) Hash(encoded []byte) []byte {
	return append([]byte(nil), encoded...)
}
func (identity) StripHash(suffix []byte) ([]byte, error) {
	return suffix, nil
}

// Identity is the canonical Identity hasher.
var Identity Family = identity{}

// blake2b128Concat is the 128-bit Blake2b "Concat" family.
type blake2b128Concat struct{}

func (blake2b128Concat) Name() string     { return "Blake2_128Concat" }
func (blake2b128Concat) Width() int       { return 16 }
func (blake2b128Concat) Reversible() bool { return true }

func (blake2b128Concat) Hash(encoded []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// Only errors on an invalid key/size combination; neither occurs
		// with a nil key and a fixed size of 16.
		panic(fmt.Sprintf("hasher: blake2b-128 init: %v", err))
	}
	h.Write(encoded)
	sum := h.Sum(nil)
	out := make([]byte, 0, len(sum)+len(encoded))
	out = append(out, sum...)
	out = append(out, encoded...)
	return out
}

func (f blake2b128Concat) StripHash(suffix []byte) ([]byte, error) {
	if len(suffix) < f.Width() {
		return nil, fmt.Errorf("%s: suffix too short: have %d want >= %d", f.Name(), len(suffix), f.Width())
	}
	return suffix[f.Width():], nil
}

// Blake2_128Concat is the required 128-bit Blake2+concat hasher.
var Blake2_128Concat Family = blake2b128Concat{}

// twox64Concat is the 64-bit XXH64 "Concat" family.
type twox64Concat struct{}

func (twox64Concat) Name() string     { return "Twox64Concat" }
func (twox64Concat) Width() int       { return 8 }
func (twox64Concat) Reversible() bool { return true }

func (twox64Concat) Hash(encoded []byte) []byte {
	sum := xxhash.Sum64(encoded)
	var digest [8]byte
	binary.LittleEndian.PutUint64(digest[:], sum)
	out := make([]byte, 0, 8+len(encoded))
	out = append(out, digest[:]...)
	out = append(out, encoded...)
	return out
}

func (f twox64Concat) StripHash(suffix []byte) ([]byte, error) {
	if len(suffix) < f.Width() {
		return nil, fmt.Errorf("%s: suffix too short: have %d want >= %d", f.Name(), len(suffix), f.Width())
	}
	return suffix[f.Width():], nil
}

// Twox64Concat is the required 64-bit XXH64+concat hasher.
var Twox64Concat Family = twox64Concat{}

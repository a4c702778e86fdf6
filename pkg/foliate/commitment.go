// Copyright 2025 Certen Protocol
package foliate

import (
	"errors"
	"fmt"

	"github.com/certen/attestation-bridge/pkg/hasher"
)

// TableIdentifier names a table as "namespace.name" for leaf encoding
// purposes.
type TableIdentifier struct {
	Namespace string
	Name      string
}

// CommitmentScheme is the scale-encoded enum discriminant of the commitment
// algorithm used for a table's commitment.
type CommitmentScheme byte

const (
	CommitmentSchemeInnerProductProof CommitmentScheme = 0x00
	CommitmentSchemeDynamicDory       CommitmentScheme = 0x01
)

// TableCommitmentBytes is the raw, already-serialized commitment blob for a
// table under a given scheme.
type TableCommitmentBytes []byte

func encodeTableIdentifier(ti TableIdentifier) []byte {
	out := make([]byte, 0, 2+len(ti.Namespace)+len(ti.Name))
	out = append(out, byte(len(ti.Namespace)))
	out = append(out, ti.Namespace...)
	out = append(out, byte(len(ti.Name)))
	out = append(out, ti.Name...)
	return out
}

func decodeTableIdentifier(b []byte) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, errors.New("table identifier: missing namespace length")
	}
	nsLen := int(b[0])
	if len(b) < 1+nsLen+1 {
		return nil, 0, errors.New("table identifier: truncated namespace")
	}
	ns := string(b[1 : 1+nsLen])
	nameLenIdx := 1 + nsLen
	nameLen := int(b[nameLenIdx])
	if len(b) < nameLenIdx+1+nameLen {
		return nil, 0, errors.New("table identifier: truncated name")
	}
	name := string(b[nameLenIdx+1 : nameLenIdx+1+nameLen])
	return TableIdentifier{Namespace: ns, Name: name}, nameLenIdx + 1 + nameLen, nil
}

func encodeCommitmentScheme(s CommitmentScheme) []byte { return []byte{byte(s)} }

func decodeCommitmentScheme(b []byte) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, errors.New("commitment scheme: empty")
	}
	return CommitmentScheme(b[0]), 1, nil
}

// CommitmentMapFoliate binds the commitment-map storage prefix to
// (TableIdentifier, CommitmentScheme) keys and a raw commitment blob value.
type CommitmentMapFoliate struct {
	storagePrefix []byte
}

// NewCommitmentMapFoliate builds a foliate for the given 32-byte pallet/item
// storage prefix.
func NewCommitmentMapFoliate(storagePrefix []byte) *CommitmentMapFoliate {
	return &CommitmentMapFoliate{storagePrefix: append([]byte(nil), storagePrefix...)}
}

func (f *CommitmentMapFoliate) StoragePrefixBytes() []byte {
	return append([]byte(nil), f.storagePrefix...)
}

func (f *CommitmentMapFoliate) KeySlots() []KeySlot {
	return []KeySlot{
		{
			Family: hasher.Blake2_128Concat,
			Encode: func(k interface{}) []byte { return encodeTableIdentifier(k.(TableIdentifier)) },
			Decode: decodeTableIdentifier,
		},
		{
			Family: hasher.Blake2_128Concat,
			Encode: func(k interface{}) []byte { return encodeCommitmentScheme(k.(CommitmentScheme)) },
			Decode: decodeCommitmentScheme,
		},
	}
}

func (f *CommitmentMapFoliate) DecodeValue(raw []byte) (interface{}, int, error) {
	return TableCommitmentBytes(append([]byte(nil), raw...)), len(raw), nil
}

// LeafEncodeKey renders len_u8(utf8("NS.NAME")) || utf8("NS.NAME") || scale(scheme).
// len_u8 <= 127 is an invariant of valid table identifiers.
func (f *CommitmentMapFoliate) LeafEncodeKey(keys KeyTuple) []byte {
	ti := keys[0].(TableIdentifier)
	scheme := keys[1].(CommitmentScheme)

	full := ti.Namespace + "." + ti.Name
	if len(full) > 127 {
		panic(fmt.Sprintf("foliate: table identifier %q exceeds 127-byte leaf key invariant", full))
	}

	out := make([]byte, 0, 1+len(full)+1)
	out = append(out, byte(len(full)))
	out = append(out, full...)
	out = append(out, byte(scheme))
	return out
}

// LeafEncodeValue returns the raw commitment bytes with no length tag.
func (f *CommitmentMapFoliate) LeafEncodeValue(value interface{}) []byte {
	return append([]byte(nil), value.(TableCommitmentBytes)...)
}

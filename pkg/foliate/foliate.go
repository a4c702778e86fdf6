// Copyright 2025 Certen Protocol
//
// Prefix foliates: a typed binding from a raw (key_bytes, value_bytes)
// storage entry to a strongly typed (key tuple, value) pair, and back to the
// canonical leaf byte string the attestation tree hashes. A foliate's key
// schema is modeled as an ordered list of (hasher.Family, decoder) slots
// rather than a source-language tuple type, so tuples of arity 0 through 4
// are handled uniformly without generic tuple metaprogramming.
//
// A language-neutral foliate never imports host-runtime storage types: it
// declares its storage_prefix_bytes as plain data (the 32-byte Blake2
// concatenation of pallet name and storage item name, computed by the host
// and supplied here as a byte slice).
package foliate

import (
	"errors"
	"fmt"

	"github.com/certen/attestation-bridge/pkg/hasher"
)

// KeyTuple is the ordered, decoded key portion of a storage entry. Its
// length is the foliate's key arity (0 to 4 in this codebase).
type KeyTuple []interface{}

// KeySlot binds one hasher family to the encode/decode functions for the
// key type stored at that position in a tuple.
type KeySlot struct {
	Family hasher.Family
	// Encode produces the canonical (SCALE-like) encoding of key, the input
	// to Family.Hash.
	Encode func(key interface{}) []byte
	// Decode consumes some prefix of encoded (the suffix after the family's
	// hash has been stripped) and returns the decoded key plus how many
	// bytes it consumed.
	Decode func(encoded []byte) (key interface{}, consumed int, err error)
}

// DecodeStorageErrorKind classifies a decode failure.
type DecodeStorageErrorKind int

const (
	UnexpectedStoragePrefix DecodeStorageErrorKind = iota
	UnexpectedKeyBytes
	UnexpectedValueBytes
	Decode
)

func (k DecodeStorageErrorKind) String() string {
	switch k {
	case UnexpectedStoragePrefix:
		return "UnexpectedStoragePrefix"
	case UnexpectedKeyBytes:
		return "UnexpectedKeyBytes"
	case UnexpectedValueBytes:
		return "UnexpectedValueBytes"
	case Decode:
		return "Decode"
	default:
		return "Unknown"
	}
}

// DecodeStorageError is returned by DecodeStorageKeyAndValue.
type DecodeStorageError struct {
	Kind DecodeStorageErrorKind
	Err  error
}

func (e *DecodeStorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("foliate: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("foliate: %s", e.Kind)
}

func (e *DecodeStorageError) Unwrap() error { return e.Err }

func decodeErr(kind DecodeStorageErrorKind, err error) error {
	return &DecodeStorageError{Kind: kind, Err: err}
}

// PrefixFoliate is the static binding between a storage prefix, its key
// schema, its value type, and the canonical leaf encoding.
type PrefixFoliate interface {
	// StoragePrefixBytes is the fixed prefix every raw storage key for this
	// foliate begins with.
	StoragePrefixBytes() []byte
	// KeySlots is this foliate's ordered (hash_family, decoder) schema.
	KeySlots() []KeySlot
	// DecodeValue decodes the raw storage value and reports how many bytes
	// of it were consumed (callers fail with UnexpectedValueBytes on a
	// nonzero remainder).
	DecodeValue(raw []byte) (value interface{}, consumed int, err error)
	// LeafEncodeKey renders the decoded key tuple into its attestation-leaf
	// byte string. Each foliate supplies its own encoding.
	LeafEncodeKey(keys KeyTuple) []byte
	// LeafEncodeValue renders the decoded value into its attestation-leaf
	// byte string.
	LeafEncodeValue(value interface{}) []byte
}

// DecodeStorageKey strips f's storage prefix from keyBytes and iteratively
// reverses each key slot's hasher to recover the typed key tuple. Any
// leftover bytes after the last key are reported as UnexpectedKeyBytes.
func DecodeStorageKey(f PrefixFoliate, keyBytes []byte) (KeyTuple, error) {
	prefix := f.StoragePrefixBytes()
	if len(keyBytes) < len(prefix) || string(keyBytes[:len(prefix)]) != string(prefix) {
		return nil, decodeErr(UnexpectedStoragePrefix, nil)
	}
	rest := keyBytes[len(prefix):]

	slots := f.KeySlots()
	keys := make(KeyTuple, 0, len(slots))
	for _, slot := range slots {
		afterHash, err := slot.Family.StripHash(rest)
		if err != nil {
			return nil, decodeErr(Decode, err)
		}
		key, consumed, err := slot.Decode(afterHash)
		if err != nil {
			return nil, decodeErr(Decode, err)
		}
		if consumed > len(afterHash) {
			return nil, decodeErr(Decode, errors.New("decoder consumed past end of suffix"))
		}
		keys = append(keys, key)
		rest = afterHash[consumed:]
	}
	if len(rest) != 0 {
		return nil, decodeErr(UnexpectedKeyBytes, fmt.Errorf("%d trailing bytes", len(rest)))
	}
	return keys, nil
}

// DecodeStorageKeyAndValue decodes keyBytes via DecodeStorageKey and decodes
// valueBytes. Any leftover bytes after the value are reported as
// UnexpectedValueBytes.
func DecodeStorageKeyAndValue(f PrefixFoliate, keyBytes, valueBytes []byte) (KeyTuple, interface{}, error) {
	keys, err := DecodeStorageKey(f, keyBytes)
	if err != nil {
		return nil, nil, err
	}

	value, consumed, err := f.DecodeValue(valueBytes)
	if err != nil {
		return nil, nil, decodeErr(Decode, err)
	}
	if consumed != len(valueBytes) {
		return nil, nil, decodeErr(UnexpectedValueBytes, fmt.Errorf("%d trailing bytes", len(valueBytes)-consumed))
	}

	return keys, value, nil
}

// StorageKeySuffixFromKeyTuple computes the on-chain storage suffix (not the
// attestation leaf) for a typed key tuple: for each key, hash_family.hash(
// key.encode()), concatenated in order.
func StorageKeySuffixFromKeyTuple(f PrefixFoliate, keys KeyTuple) ([]byte, error) {
	slots := f.KeySlots()
	if len(keys) != len(slots) {
		return nil, fmt.Errorf("foliate: key tuple has %d keys, schema wants %d", len(keys), len(slots))
	}
	var out []byte
	for i, slot := range slots {
		out = append(out, slot.Family.Hash(slot.Encode(keys[i]))...)
	}
	return out, nil
}

// StorageKeyForPrefixKeyTuple returns the full raw storage key (prefix plus
// suffix) for a typed key tuple.
func StorageKeyForPrefixKeyTuple(f PrefixFoliate, keys KeyTuple) ([]byte, error) {
	suffix, err := StorageKeySuffixFromKeyTuple(f, keys)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), f.StoragePrefixBytes()...), suffix...), nil
}

// EncodeKeyValueLeaf returns leaf_encode_key(keys) || leaf_encode_value(value).
func EncodeKeyValueLeaf(f PrefixFoliate, keys KeyTuple, value interface{}) []byte {
	return append(f.LeafEncodeKey(keys), f.LeafEncodeValue(value)...)
}

// StorageEntry is one raw (key, value) pair as yielded by a host-runtime
// storage iterator.
type StorageEntry struct {
	Key   []byte
	Value []byte
}

// EncodePrefixLeaves decodes then re-encodes every entry under f's prefix,
// preserving input order, and fails the whole batch on the first error.
func EncodePrefixLeaves(f PrefixFoliate, entries []StorageEntry) ([][]byte, error) {
	leaves := make([][]byte, 0, len(entries))
	for i, e := range entries {
		keys, value, err := DecodeStorageKeyAndValue(f, e.Key, e.Value)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		leaves = append(leaves, EncodeKeyValueLeaf(f, keys, value))
	}
	return leaves, nil
}

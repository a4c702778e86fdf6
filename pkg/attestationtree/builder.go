// Copyright 2025 Certen Protocol
//
// Attestation tree builder: consumes raw (key, value) storage iterators for
// the commitment-map and locks foliates, re-encodes each entry as an
// attestation leaf, and assembles the binary double-Keccak-over-hex Merkle
// tree (see pkg/merkle) that external verifiers reconstruct independently.
package attestationtree

import (
	"fmt"

	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
)

// ErrorKind classifies a tree-build failure.
type ErrorKind int

const (
	DecodeStorage ErrorKind = iota
	PreHashLeaf
	CreateTreeFromLeaves
)

func (k ErrorKind) String() string {
	switch k {
	case DecodeStorage:
		return "DecodeStorage"
	case PreHashLeaf:
		return "PreHashLeaf"
	case CreateTreeFromLeaves:
		return "CreateTreeFromLeaves"
	default:
		return "Unknown"
	}
}

// Error wraps a builder failure with the stage at which it occurred.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("attestationtree: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// BuildFromPrefixes builds the attestation tree from the commitment-map and
// locks storage entries of one finalized block, plus the single global
// staking-contract-info record. Commitment leaves precede locks leaves, and
// each group preserves its iterator order, matching the external verifier's
// expected leaf ordering exactly.
func BuildFromPrefixes(
	commitmentFoliate *foliate.CommitmentMapFoliate,
	commitmentEntries []foliate.StorageEntry,
	locksFoliate *foliate.LocksStakingFoliate,
	locksEntries []foliate.StorageEntry,
	stakingContractInfo []byte,
) (*merkle.Tree, error) {
	leaves := make([][]byte, 0, len(commitmentEntries)+len(locksEntries))

	for i, e := range commitmentEntries {
		keys, value, err := foliate.DecodeStorageKeyAndValue(commitmentFoliate, e.Key, e.Value)
		if err != nil {
			return nil, &Error{Kind: DecodeStorage, Err: fmt.Errorf("commitment entry %d: %w", i, err)}
		}
		leaves = append(leaves, foliate.EncodeKeyValueLeaf(commitmentFoliate, keys, value))
	}

	for i, e := range locksEntries {
		joined := append(append([]byte(nil), e.Value...), stakingContractInfo...)
		keys, value, err := foliate.DecodeStorageKeyAndValue(locksFoliate, e.Key, joined)
		if err != nil {
			return nil, &Error{Kind: DecodeStorage, Err: fmt.Errorf("locks entry %d: %w", i, err)}
		}
		leaves = append(leaves, foliate.EncodeKeyValueLeaf(locksFoliate, keys, value))
	}

	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, &Error{Kind: CreateTreeFromLeaves, Err: err}
	}
	return tree, nil
}

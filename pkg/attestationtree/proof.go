// Copyright 2025 Certen Protocol
package attestationtree

import (
	"errors"
	"fmt"

	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
)

// ProofErrorKind classifies a proof-generation failure.
type ProofErrorKind int

const (
	HashLeaf ProofErrorKind = iota
	NoSuchLeaf
)

func (k ProofErrorKind) String() string {
	switch k {
	case HashLeaf:
		return "HashLeaf"
	case NoSuchLeaf:
		return "NoSuchLeaf"
	default:
		return "Unknown"
	}
}

// ProofError wraps a proof-generation failure.
type ProofError struct {
	Kind ProofErrorKind
	Err  error
}

func (e *ProofError) Error() string { return fmt.Sprintf("attestationtree: %s: %v", e.Kind, e.Err) }
func (e *ProofError) Unwrap() error { return e.Err }

// ProveLeafPair computes the leaf bytes for (keys, value) under f, locates
// the matching leaf in tree, and returns its inclusion proof. Returns
// NoSuchLeaf if the tree contains no matching entry.
func ProveLeafPair(tree *merkle.Tree, f foliate.PrefixFoliate, keys foliate.KeyTuple, value interface{}) (*merkle.InclusionProof, error) {
	leafBytes := foliate.EncodeKeyValueLeaf(f, keys, value)

	proof, err := tree.GenerateProofForLeaf(leafBytes)
	if err != nil {
		if errors.Is(err, merkle.ErrLeafNotFound) {
			return nil, &ProofError{Kind: NoSuchLeaf, Err: err}
		}
		return nil, &ProofError{Kind: HashLeaf, Err: err}
	}
	return proof, nil
}

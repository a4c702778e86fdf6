// Copyright 2025 Certen Protocol
package merkle

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestLeafNodeHash_IsDoubleKeccakOverHex(t *testing.T) {
	leaf := []byte("hello attestation")
	pre := crypto.Keccak256(hexLower(leaf))
	want := crypto.Keccak256(hexLower(pre))

	got := LeafNodeHash(leaf)
	if !bytes.Equal(got, want) {
		t.Fatalf("LeafNodeHash mismatch: got %x want %x", got, want)
	}
}

func TestBuildTree_TwoLeaves_ProofRoundTrip(t *testing.T) {
	// Scenario from the commitment+staking leaf vectors: build a tree from
	// two leaves and confirm folding the proof path reproduces the root.
	commitmentLeaf := append([]byte{0x0c}, []byte("SCHEMA.TABLE")...)
	commitmentLeaf = append(commitmentLeaf, 0x01)
	var commitmentValue [256]byte
	for i := range commitmentValue {
		commitmentValue[i] = byte(i)
	}
	commitmentLeaf = append(commitmentLeaf, commitmentValue[:]...)

	locksLeaf := make([]byte, 83)
	locksLeaf[29], locksLeaf[30] = 0x01, 0x01
	locksLeaf[61], locksLeaf[62] = 0x04, 0x04
	for i := 0; i < 20; i++ {
		locksLeaf[63+i] = byte(i)
	}

	tree, err := BuildTree([][]byte{commitmentLeaf, locksLeaf})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if tree.LeafCount() != 2 {
		t.Fatalf("expected 2 leaves, got %d", tree.LeafCount())
	}

	for _, leaf := range [][]byte{commitmentLeaf, locksLeaf} {
		proof, err := tree.GenerateProofForLeaf(leaf)
		if err != nil {
			t.Fatalf("GenerateProofForLeaf: %v", err)
		}
		ok, err := VerifyProof(leaf, proof, tree.Root())
		if err != nil {
			t.Fatalf("VerifyProof: %v", err)
		}
		if !ok {
			t.Fatalf("proof did not verify against root")
		}
	}
}

func TestGenerateProofForLeaf_NonMember(t *testing.T) {
	tree, err := BuildTree([][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if _, err := tree.GenerateProofForLeaf([]byte("not present")); err != ErrLeafNotFound {
		t.Fatalf("expected ErrLeafNotFound, got %v", err)
	}
}

// TestOddLevelPairing locks down the odd-length pairing rule left open by
// the source spec: the final unpaired node at any level is duplicated and
// hashed with itself, rather than promoted unchanged.
func TestOddLevelPairing(t *testing.T) {
	leaves := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	tree, err := BuildTree(leaves)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	l0 := make([][]byte, len(leaves))
	for i, l := range leaves {
		l0[i] = LeafNodeHash(l)
	}
	n01 := hashPair(l0[0], l0[1])
	n22 := hashPair(l0[2], l0[2])
	wantRoot := hashPair(n01, n22)

	if !bytes.Equal(tree.Root(), wantRoot) {
		t.Fatalf("odd-level pairing mismatch: got %x want %x", tree.Root(), wantRoot)
	}
}

func TestVerifyProof_RejectsWrongRoot(t *testing.T) {
	tree, err := BuildTree([][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	proof, err := tree.GenerateProofForLeaf([]byte("a"))
	if err != nil {
		t.Fatalf("GenerateProofForLeaf: %v", err)
	}
	wrongRoot := make([]byte, 32)
	ok, err := VerifyProof([]byte("a"), proof, wrongRoot)
	if err != nil {
		t.Fatalf("VerifyProof: %v", err)
	}
	if ok {
		t.Fatalf("expected verification failure against wrong root")
	}
}

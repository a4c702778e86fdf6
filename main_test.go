// Copyright 2025 Certen Protocol
package main

import (
	"testing"

	"github.com/certen/attestation-bridge/pkg/foliate"
)

func TestNewSelectAllLockLeaves_RecoversAccountFromKey(t *testing.T) {
	prefix := []byte("01234567890123456789012345678901")[:32]
	locksFoliate := foliate.NewLocksStakingFoliate(prefix)

	var want foliate.AccountID
	for i := range want {
		want[i] = byte(i + 1)
	}
	rawKey, err := foliate.StorageKeyForPrefixKeyTuple(locksFoliate, foliate.KeyTuple{want})
	if err != nil {
		t.Fatalf("StorageKeyForPrefixKeyTuple: %v", err)
	}

	selectLeaves := newSelectAllLockLeaves(locksFoliate)
	selected := selectLeaves([]foliate.StorageEntry{{Key: rawKey, Value: nil}})
	if len(selected) != 1 {
		t.Fatalf("want 1 selected leaf, got %d", len(selected))
	}
	got, ok := selected[0][0].(foliate.AccountID)
	if !ok || got != want {
		t.Fatalf("selected account = %v, want %v", selected[0][0], want)
	}
}

func TestNewSelectAllLockLeaves_SkipsUndecodableEntries(t *testing.T) {
	prefix := []byte("01234567890123456789012345678901")[:32]
	locksFoliate := foliate.NewLocksStakingFoliate(prefix)

	selectLeaves := newSelectAllLockLeaves(locksFoliate)
	selected := selectLeaves([]foliate.StorageEntry{
		{Key: []byte("too-short")},
		{Key: append(append([]byte(nil), prefix...), []byte("truncated-suffix")...)},
	})
	if len(selected) != 0 {
		t.Fatalf("want 0 selected leaves for malformed entries, got %d", len(selected))
	}
}

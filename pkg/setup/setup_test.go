// Copyright 2025 Certen Protocol
package setup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestInit_Lifecycle exercises Init's one-shot semantics in a single test
// function: Init uses a package-wide sync.Once by design (the trusted setup
// is a genuine process singleton, not meant to be reloaded), so these
// assertions must run in one sequence rather than across independent tests.
func TestInit_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	mismatchPath := filepath.Join(dir, "srs-mismatch.bin")
	if err := os.WriteFile(mismatchPath, []byte("not a real srs"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// First call: wrong content hash. This consumes the package's once,
	// recording the resulting error as the permanent init outcome.
	_, err := Init(mismatchPath, "0000000000000000000000000000000000000000000000000000000000000000")
	if err == nil {
		t.Fatalf("expected content hash mismatch error on first call")
	}

	// Second call, even with an entirely different (valid-hash) file: the
	// singleton has already been decided, so this must report
	// ErrAlreadyInitialized rather than attempt to load again.
	validPath := filepath.Join(dir, "srs-other.bin")
	content := []byte("placeholder trusted setup bytes")
	if err := os.WriteFile(validPath, content, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	_, err = Init(validPath, hash)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized on second call, got %v", err)
	}
}

// Copyright 2025 Certen Protocol
//
// Trusted setup singleton: the commitment scheme's KZG/Dory public
// parameters are loaded once at process startup from a configured file,
// validated against a pinned content hash, and returned by Init for callers
// to pass on; Get reads the same value from the package-global singleton.
// Any call to Init after the first returns ErrAlreadyInitialized.
package setup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/kzg"
)

// TrustedSetup holds the process-wide KZG structured reference string used
// by the dynamic Dory commitment scheme's verifier-side checks.
type TrustedSetup struct {
	SRS         *kzg.SRS
	ContentHash string // hex-encoded sha256 of the source file, for audit logging
}

var (
	once      sync.Once
	singleton *TrustedSetup
	initErr   error
)

// ErrAlreadyInitialized is returned by Init when the trusted setup has
// already been loaded in this process.
var ErrAlreadyInitialized = fmt.Errorf("setup: trusted setup already initialized")

// Init loads the SRS from path and records its content hash, provided it
// matches expectedContentHash (hex-encoded sha256). Init may be called
// exactly once per process; subsequent calls return ErrAlreadyInitialized
// without re-reading the file.
func Init(path string, expectedContentHash string) (*TrustedSetup, error) {
	var firstCallErr error
	alreadyCalled := true

	once.Do(func() {
		alreadyCalled = false
		singleton, firstCallErr = load(path, expectedContentHash)
		initErr = firstCallErr
	})

	if alreadyCalled {
		return nil, ErrAlreadyInitialized
	}
	return singleton, firstCallErr
}

// Get returns the process's trusted setup. It panics if Init has not been
// called successfully; callers on the proof-generation path must ensure
// Init runs during startup before any proof request can reach them.
func Get() *TrustedSetup {
	if singleton == nil || initErr != nil {
		panic("setup: trusted setup accessed before successful Init")
	}
	return singleton
}

func load(path string, expectedContentHash string) (*TrustedSetup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("setup: open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("setup: read %s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	gotHash := hex.EncodeToString(sum[:])
	if gotHash != expectedContentHash {
		return nil, fmt.Errorf("setup: content hash mismatch for %s: got %s want %s", path, gotHash, expectedContentHash)
	}

	srs := &kzg.SRS{}
	if _, err := srs.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("setup: decode SRS from %s: %w", path, err)
	}

	return &TrustedSetup{SRS: srs, ContentHash: gotHash}, nil
}

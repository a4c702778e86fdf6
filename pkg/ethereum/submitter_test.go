// Copyright 2025 Certen Protocol
package ethereum

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewContractSubmitter_DerivesFromAddress(t *testing.T) {
	// A fixed, valid secp256k1 private key (test-only; not a live key).
	const privKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f36231"

	sub, err := NewContractSubmitter(nil, "0x1111111111111111111111111111111111111111", privKeyHex, 500000)
	if err != nil {
		t.Fatalf("NewContractSubmitter: %v", err)
	}
	if sub.fromAddress == (common.Address{}) {
		t.Fatalf("expected a derived from-address, got zero value")
	}
}

func TestNewContractSubmitter_RejectsMalformedKey(t *testing.T) {
	if _, err := NewContractSubmitter(nil, "0x1111111111111111111111111111111111111111", "not-hex", 500000); err == nil {
		t.Fatalf("expected error for malformed private key")
	}
}

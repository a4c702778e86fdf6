// Copyright 2025 Certen Protocol
//
// Signer / keystore bridge: maps a chain account to a registered secp256k1
// key and signs/verifies Ethereum-style (EIP-191) messages against it. The
// cryptographic primitives are go-ethereum's, the same ones used elsewhere
// in this module for external-contract submission, so the key type that
// signs an attestation and the key type that signs an on-chain transaction
// share one code path end to end.
package signer

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// PublicKey is a compressed secp256k1 public key.
type PublicKey [33]byte

// Address20 is the Ethereum-style 20-byte address derived from a public key.
type Address20 [20]byte

// EthereumSignature is an (r, s, v) ECDSA signature. V carries the EIP-155
// convention; both the {0,1} and {27,28} encodings are accepted on verify.
type EthereumSignature struct {
	R [32]byte
	S [32]byte
	V byte
}

// AttestationKey is a registered Ethereum-style key: its public key and the
// address derived from it.
type AttestationKey struct {
	PubKey    PublicKey
	Address20 Address20
}

// VerificationErrorKind classifies a cryptographic verification failure.
type VerificationErrorKind int

const (
	InvalidRecoveryIDError VerificationErrorKind = iota
	KeyRecoveryError
	PublicKeyParsingError
	SignatureRecoveryError
	SignatureMismatchError
)

func (k VerificationErrorKind) String() string {
	switch k {
	case InvalidRecoveryIDError:
		return "InvalidRecoveryIdError"
	case KeyRecoveryError:
		return "KeyRecoveryError"
	case PublicKeyParsingError:
		return "PublicKeyParsingError"
	case SignatureRecoveryError:
		return "SignatureRecoveryError"
	case SignatureMismatchError:
		return "SignatureMismatchError"
	default:
		return "Unknown"
	}
}

// VerificationError is returned by VerifySignature.
type VerificationError struct {
	Kind VerificationErrorKind
	Err  error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signer: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("signer: %s", e.Kind)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// HashEthMessage computes keccak256("\x19Ethereum Signed Message:\n" ||
// decimal_len(message) || message), the EIP-191 personal-message digest.
func HashEthMessage(message []byte) []byte {
	return accounts.TextHash(message)
}

// CreateAttestationMessage builds the wire-exact attestation message:
// state_root || be_u64(block_number). block_number is widened to 64 bits
// before encoding even though it is stored as a u32.
func CreateAttestationMessage(stateRoot []byte, blockNumber uint32) []byte {
	msg := make([]byte, 0, len(stateRoot)+8)
	msg = append(msg, stateRoot...)
	var be8 [8]byte
	be8[4] = byte(blockNumber >> 24)
	be8[5] = byte(blockNumber >> 16)
	be8[6] = byte(blockNumber >> 8)
	be8[7] = byte(blockNumber)
	msg = append(msg, be8[:]...)
	return msg
}

// UncompressedPublicKeyToAddress derives address20 = keccak256(uncompressed(
// pub_key))[12:] from a compressed secp256k1 public key.
func UncompressedPublicKeyToAddress(pub PublicKey) (Address20, error) {
	ecdsaPub, err := crypto.DecompressPubkey(pub[:])
	if err != nil {
		return Address20{}, &VerificationError{Kind: PublicKeyParsingError, Err: err}
	}
	addr := crypto.PubkeyToAddress(*ecdsaPub)
	var out Address20
	copy(out[:], addr[:])
	return out, nil
}

// SignMessage signs message with privKey and returns an EIP-191 signature.
func SignMessage(privKey *ecdsa.PrivateKey, message []byte) (EthereumSignature, error) {
	digest := HashEthMessage(message)
	sig, err := crypto.Sign(digest, privKey)
	if err != nil {
		return EthereumSignature{}, fmt.Errorf("signer: sign: %w", err)
	}

	var out EthereumSignature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64] + 27
	return out, nil
}

// recoveryID normalizes v to the {0,1} form crypto.Ecrecover expects,
// accepting both the {0,1} and {27,28} encodings.
func recoveryID(v byte) (byte, error) {
	switch v {
	case 0, 1:
		return v, nil
	case 27, 28:
		return v - 27, nil
	default:
		return 0, fmt.Errorf("unsupported recovery id %d", v)
	}
}

// VerifySignature checks that sig over message recovers to expectedPubKey.
func VerifySignature(message []byte, sig EthereumSignature, expectedPubKey PublicKey) error {
	recID, err := recoveryID(sig.V)
	if err != nil {
		return &VerificationError{Kind: InvalidRecoveryIDError, Err: err}
	}

	digest := HashEthMessage(message)
	sig65 := make([]byte, 65)
	copy(sig65[0:32], sig.R[:])
	copy(sig65[32:64], sig.S[:])
	sig65[64] = recID

	recoveredUncompressed, err := crypto.Ecrecover(digest, sig65)
	if err != nil {
		return &VerificationError{Kind: SignatureRecoveryError, Err: err}
	}
	recoveredPub, err := crypto.UnmarshalPubkey(recoveredUncompressed)
	if err != nil {
		return &VerificationError{Kind: KeyRecoveryError, Err: err}
	}
	recoveredCompressed := crypto.CompressPubkey(recoveredPub)

	if !bytes.Equal(recoveredCompressed, expectedPubKey[:]) {
		return &VerificationError{Kind: SignatureMismatchError, Err: errors.New("recovered key does not match expected key")}
	}
	return nil
}

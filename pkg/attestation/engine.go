// Copyright 2025 Certen Protocol
//
// Block attestation engine: the in-process model of the host chain's
// attestation pallet storage (AttestationKeys, Attestations, LastForwardedBlock)
// together with the attest_block / mark_block_forwarded extrinsic logic.
package attestation

import (
	"fmt"
	"sync"

	"github.com/certen/attestation-bridge/pkg/signer"
)

// MaxAttestationsPerBlock bounds the attestation list for any single block,
// mirroring the pallet's BoundedVec<_, ConstU32<64>>.
const MaxAttestationsPerBlock = 64

// Attestation is a single attestor's signed claim about a block's state root.
type Attestation struct {
	ProposedPubKey signer.PublicKey
	Address20      signer.Address20
	StateRoot      [32]byte
	BlockNumber    uint32
	Signature      signer.EthereumSignature
}

// ErrorKind classifies an attest_block / mark_block_forwarded failure.
type ErrorKind int

const (
	VerificationError ErrorKind = iota
	InsufficientPermissions
	AttestationSignatureError
	MaxAttestationsForBlockError
	AttestationAlreadyRecordedError
	CannotAttestFutureBlock
	CannotAttestCurrentBlock
)

func (k ErrorKind) String() string {
	switch k {
	case VerificationError:
		return "VerificationError"
	case InsufficientPermissions:
		return "InsufficientPermissions"
	case AttestationSignatureError:
		return "AttestationSignatureError"
	case MaxAttestationsForBlockError:
		return "MaxAttestationsForBlockError"
	case AttestationAlreadyRecordedError:
		return "AttestationAlreadyRecordedError"
	case CannotAttestFutureBlock:
		return "CannotAttestFutureBlock"
	case CannotAttestCurrentBlock:
		return "CannotAttestCurrentBlock"
	default:
		return "Unknown"
	}
}

// Error wraps an attest_block / mark_block_forwarded failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attestation: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("attestation: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// PermissionChecker reports whether account may submit attestations or mark
// blocks forwarded. The engine has no notion of root/permissioned origins of
// its own; it defers that to whatever authority layer wires it up.
type PermissionChecker interface {
	CanAttestBlock(account signer.AccountID) bool
	CanForwardAttestedBlock(account signer.AccountID) bool
}

// BlockAttestedEvent is emitted by AttestBlock on success.
type BlockAttestedEvent struct {
	BlockNumber uint32
	Attestation Attestation
	Who         signer.AccountID
}

// Engine is the in-memory equivalent of the attestation pallet's storage: a
// bounded per-block attestation list plus the last-forwarded-block pointer.
type Engine struct {
	mu                 sync.Mutex
	attestationsByBlk  map[uint32][]Attestation
	lastForwardedBlock *uint32
	permissions        PermissionChecker
	keystore           *signer.Store
	events             []BlockAttestedEvent
}

// NewEngine returns an empty attestation engine backed by keystore for
// signature/registration checks and permissions for authorization checks.
func NewEngine(keystore *signer.Store, permissions PermissionChecker) *Engine {
	return &Engine{
		attestationsByBlk: make(map[uint32][]Attestation),
		permissions:       permissions,
		keystore:          keystore,
	}
}

// AttestBlock records who's attestation under att.BlockNumber after
// validating the temporal guard (currentBlock against blockNumber), the
// caller's permission, the attestor's signature, and the
// at-most-once-per-attestor / bounded-list invariants. It mirrors the
// pallet's attest_block extrinsic exactly, call-index for call-index.
func (e *Engine) AttestBlock(who signer.AccountID, currentBlock uint32, blockNumber uint32, att Attestation) error {
	if currentBlock <= blockNumber {
		if currentBlock == blockNumber {
			return &Error{Kind: CannotAttestCurrentBlock}
		}
		return &Error{Kind: CannotAttestFutureBlock}
	}

	if e.permissions != nil && !e.permissions.CanAttestBlock(who) {
		return &Error{Kind: InsufficientPermissions}
	}

	msg := signer.CreateAttestationMessage(att.StateRoot[:], att.BlockNumber)
	proposedKey := signer.AttestationKey{PubKey: att.ProposedPubKey, Address20: att.Address20}
	if err := e.keystore.VerifyEthereumMsg(who, msg, proposedKey, att.Signature); err != nil {
		return &Error{Kind: AttestationSignatureError, Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.attestationsByBlk[att.BlockNumber]
	if err := mustNotHaveSubmittedAttestation(existing, att.ProposedPubKey); err != nil {
		return err
	}
	if len(existing) >= MaxAttestationsPerBlock {
		return &Error{Kind: MaxAttestationsForBlockError}
	}

	e.attestationsByBlk[att.BlockNumber] = append(existing, att)
	e.events = append(e.events, BlockAttestedEvent{
		BlockNumber: att.BlockNumber,
		Attestation: att,
		Who:         who,
	})
	return nil
}

// mustNotHaveSubmittedAttestation enforces that no two entries in a block's
// attestation list share a proposed_pub_key.
func mustNotHaveSubmittedAttestation(existing []Attestation, attestorKey signer.PublicKey) error {
	for _, a := range existing {
		if a.ProposedPubKey == attestorKey {
			return &Error{Kind: AttestationAlreadyRecordedError}
		}
	}
	return nil
}

// MarkBlockForwarded records blockNumber as the last forwarded block. It
// emits no event, matching the pallet's mark_block_forwarded.
func (e *Engine) MarkBlockForwarded(who signer.AccountID, blockNumber uint32) error {
	if e.permissions != nil && !e.permissions.CanForwardAttestedBlock(who) {
		return &Error{Kind: InsufficientPermissions}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	bn := blockNumber
	e.lastForwardedBlock = &bn
	return nil
}

// AttestationsForBlock returns a copy of the recorded attestations for
// blockNumber, or an empty slice if none have been recorded.
func (e *Engine) AttestationsForBlock(blockNumber uint32) []Attestation {
	e.mu.Lock()
	defer e.mu.Unlock()
	existing := e.attestationsByBlk[blockNumber]
	out := make([]Attestation, len(existing))
	copy(out, existing)
	return out
}

// BestRecentAttestedBlock scans the window of block numbers
// (headBlock-windowBlocks, headBlock] and returns the one with the most
// recorded attestations, tying toward the largest block number. ok is
// false when no block in the window has any attestations.
func (e *Engine) BestRecentAttestedBlock(headBlock uint32, windowBlocks uint32) (blockNumber uint32, count int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var low uint32
	if headBlock > windowBlocks {
		low = headBlock - windowBlocks
	}

	for n := headBlock; n > low; n-- {
		c := len(e.attestationsByBlk[n])
		if c == 0 {
			continue
		}
		if !ok || c > count || (c == count && n > blockNumber) {
			blockNumber, count, ok = n, c, true
		}
	}
	return blockNumber, count, ok
}

// LastForwardedBlock returns the last block marked forwarded, if any.
func (e *Engine) LastForwardedBlock() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastForwardedBlock == nil {
		return 0, false
	}
	return *e.lastForwardedBlock, true
}

// DrainEvents returns and clears all BlockAttested events recorded so far.
func (e *Engine) DrainEvents() []BlockAttestedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

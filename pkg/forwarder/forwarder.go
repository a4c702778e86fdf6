// Copyright 2025 Certen Protocol
//
// Event forwarder: walks finalized blocks via the block stream, rebuilds the
// attestation tree from storage, proves the leaves of interest, submits a
// single transaction to the external contract, and marks the block
// forwarded. One iteration per block; all per-block work is serialized by
// the stream's advance gate (pkg/blockstream).
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/certen/attestation-bridge/pkg/attestation"
	"github.com/certen/attestation-bridge/pkg/attestationtree"
	"github.com/certen/attestation-bridge/pkg/blockstream"
	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
	"github.com/google/uuid"
)

// ErrorKind classifies a per-block forwarding failure.
type ErrorKind int

const (
	// SetupError is raised when the rebuilt tree's root does not match an
	// attestation's claimed state_root.
	SetupError ErrorKind = iota
	StorageFetchError
	ProofError
	SubmissionError
	MarkForwardedError
)

func (k ErrorKind) String() string {
	switch k {
	case SetupError:
		return "SetupError"
	case StorageFetchError:
		return "StorageFetchError"
	case ProofError:
		return "ProofError"
	case SubmissionError:
		return "SubmissionError"
	case MarkForwardedError:
		return "MarkForwardedError"
	default:
		return "Unknown"
	}
}

// Error wraps a per-block forwarding failure.
type Error struct {
	Kind        ErrorKind
	BlockNumber uint32
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("forwarder: block %d: %s: %v", e.BlockNumber, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRootMismatchHalted is returned by Run when FailClosedOnMismatch is
// false and a tree-root mismatch is observed: the forwarder's configured
// policy is to halt rather than skip-and-report.
var ErrRootMismatchHalted = errors.New("forwarder: halted on attestation tree root mismatch")

// StorageSource supplies the descendant-value iterators and point lookups
// the forwarder needs to rebuild the attestation tree for a block.
type StorageSource interface {
	CommitmentEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error)
	LocksEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error)
	StakingContractInfo(ctx context.Context, blockHash string) ([]byte, error)
}

// LeafProof pairs a storage leaf's key tuple and value with its inclusion
// proof against the block's attestation tree.
type LeafProof struct {
	Foliate foliate.PrefixFoliate
	Keys    foliate.KeyTuple
	Value   interface{}
	Proof   *merkle.InclusionProof
}

// SubmissionRequest is everything the external contract call needs for one
// block's forward transaction.
type SubmissionRequest struct {
	BlockNumber   uint32
	StateRoot     [32]byte
	Attestations  []attestation.Attestation
	Leaves        []LeafProof
	Nonce         uint64
	CorrelationID string
}

// ContractSubmitter sends one forward transaction to the external contract.
// Implementations must return an error whose text contains "nonce too low"
// or "already known" (or "replacement transaction underpriced") for
// nonce-conflict conditions so the forwarder can refresh its nonce tracker
// and retry.
type ContractSubmitter interface {
	Submit(ctx context.Context, req SubmissionRequest) (txHash string, err error)
	PendingNonce(ctx context.Context) (uint64, error)
}

// LeafSelector decides which (account, lock) leaves a block's forward
// transaction must relay, given the full set of locks entries fetched for
// that block.
type LeafSelector func(locksEntries []foliate.StorageEntry) []foliate.KeyTuple

// Forwarder runs the per-block forward loop against a single external
// contract, holding its own nonce counter and root-mismatch policy.
type Forwarder struct {
	Engine               *attestation.Engine
	CommitmentFoliate    *foliate.CommitmentMapFoliate
	LocksFoliate         *foliate.LocksStakingFoliate
	Storage              StorageSource
	Submitter            ContractSubmitter
	Nonces               *NonceTracker
	SelectLeaves         LeafSelector
	FailClosedOnMismatch bool
	MaxSubmissionRetries int
	Advance              chan<- bool
	Logger               *log.Logger
}

// Run consumes blocks from the stream until it closes or ctx is cancelled,
// processing each one and signaling the stream's advance channel once per
// block: true when the block is done or skipped after a SetupError, false to
// have the stream re-yield it after any other error. ErrRootMismatchHalted
// is returned without signaling.
func (f *Forwarder) Run(ctx context.Context, blocks <-chan blockstream.Block) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case blk, ok := <-blocks:
			if !ok {
				return nil
			}
			if err := f.processBlock(ctx, blk); err != nil {
				if errors.Is(err, ErrRootMismatchHalted) {
					return err
				}
				f.logf("block %d: %v", blk.Number, err)
				var ferr *Error
				skip := errors.As(err, &ferr) && ferr.Kind == SetupError
				select {
				case f.Advance <- skip:
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			select {
			case f.Advance <- true:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (f *Forwarder) logf(format string, args ...interface{}) {
	if f.Logger != nil {
		f.Logger.Printf(format, args...)
	}
}

// processBlock executes steps 1-7 of the forward loop for a single block.
func (f *Forwarder) processBlock(ctx context.Context, blk blockstream.Block) error {
	atts := f.Engine.AttestationsForBlock(blk.Number)
	if len(atts) == 0 {
		return nil
	}

	commitmentEntries, err := f.Storage.CommitmentEntries(ctx, blk.Hash)
	if err != nil {
		return &Error{Kind: StorageFetchError, BlockNumber: blk.Number, Err: err}
	}
	locksEntries, err := f.Storage.LocksEntries(ctx, blk.Hash)
	if err != nil {
		return &Error{Kind: StorageFetchError, BlockNumber: blk.Number, Err: err}
	}
	stakingContractInfo, err := f.Storage.StakingContractInfo(ctx, blk.Hash)
	if err != nil {
		return &Error{Kind: StorageFetchError, BlockNumber: blk.Number, Err: err}
	}

	tree, err := attestationtree.BuildFromPrefixes(
		f.CommitmentFoliate, commitmentEntries,
		f.LocksFoliate, locksEntries,
		stakingContractInfo,
	)
	if err != nil {
		return &Error{Kind: SetupError, BlockNumber: blk.Number, Err: err}
	}

	var root [32]byte
	copy(root[:], tree.Root())
	for _, att := range atts {
		if att.StateRoot != root {
			if f.FailClosedOnMismatch {
				return &Error{Kind: SetupError, BlockNumber: blk.Number,
					Err: fmt.Errorf("attestation tree root %x does not match attested state root %x", root, att.StateRoot)}
			}
			return fmt.Errorf("%w: block %d: tree root %x != state root %x", ErrRootMismatchHalted, blk.Number, root, att.StateRoot)
		}
	}

	selected := f.SelectLeaves(locksEntries)
	leaves := make([]LeafProof, 0, len(selected))
	for _, keys := range selected {
		var value interface{}
		for _, e := range locksEntries {
			if decodedKeys, decodedValue, derr := foliate.DecodeStorageKeyAndValue(f.LocksFoliate, e.Key, append(append([]byte(nil), e.Value...), stakingContractInfo...)); derr == nil {
				if keyTupleEqual(decodedKeys, keys) {
					value = decodedValue
					break
				}
			}
		}
		proof, err := attestationtree.ProveLeafPair(tree, f.LocksFoliate, keys, value)
		if err != nil {
			return &Error{Kind: ProofError, BlockNumber: blk.Number, Err: err}
		}
		leaves = append(leaves, LeafProof{Foliate: f.LocksFoliate, Keys: keys, Value: value, Proof: proof})
	}

	if err := f.submitWithRetry(ctx, blk, root, atts, leaves); err != nil {
		return &Error{Kind: SubmissionError, BlockNumber: blk.Number, Err: err}
	}

	var zeroAccount [32]byte
	if err := f.Engine.MarkBlockForwarded(zeroAccount, blk.Number); err != nil {
		return &Error{Kind: MarkForwardedError, BlockNumber: blk.Number, Err: err}
	}
	return nil
}

// keyTupleEqual compares two foliate.KeyTuple values element-wise using ==
// where supported; foliate key types are all comparable (fixed-size arrays,
// structs of comparable fields, or single bytes).
func keyTupleEqual(a, b foliate.KeyTuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// submitWithRetry submits the block's forward transaction, retrying with
// exponential backoff up to MaxSubmissionRetries attempts. A nonce-conflict
// error triggers a nonce refresh from the chain before the next attempt.
func (f *Forwarder) submitWithRetry(ctx context.Context, blk blockstream.Block, root [32]byte, atts []attestation.Attestation, leaves []LeafProof) error {
	correlationID := uuid.New().String()
	var lastErr error
	for attempt := 0; attempt < f.MaxSubmissionRetries; attempt++ {
		req := SubmissionRequest{
			BlockNumber:   blk.Number,
			StateRoot:     root,
			Attestations:  atts,
			Leaves:        leaves,
			Nonce:         f.Nonces.Next(),
			CorrelationID: correlationID,
		}

		_, err := f.Submitter.Submit(ctx, req)
		if err == nil {
			return nil
		}
		lastErr = err
		f.logf("block %d: submission %s attempt %d failed: %v", blk.Number, correlationID, attempt, err)

		if isNonceConflict(err) {
			if chainNonce, nerr := f.Submitter.PendingNonce(ctx); nerr == nil {
				f.Nonces.Refresh(chainNonce)
			}
		}

		delay := time.Duration(1<<uint(attempt)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("submission failed after %d attempts: %w", f.MaxSubmissionRetries, lastErr)
}

func isNonceConflict(err error) bool {
	s := err.Error()
	return strings.Contains(s, "nonce too low") || strings.Contains(s, "already known") || strings.Contains(s, "replacement transaction underpriced")
}

// Copyright 2025 Certen Protocol
package forwarder

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/attestation-bridge/pkg/attestation"
	"github.com/certen/attestation-bridge/pkg/attestationtree"
	"github.com/certen/attestation-bridge/pkg/blockstream"
	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
	"github.com/certen/attestation-bridge/pkg/signer"
	"github.com/ethereum/go-ethereum/crypto"
)

// buildExpectedTree mirrors what the forwarder itself builds from storage,
// letting tests compute the root an attestation must claim to match.
func buildExpectedTree(t *testing.T, commitmentFoliate *foliate.CommitmentMapFoliate, locksFoliate *foliate.LocksStakingFoliate, storage *fakeStorage) (*merkle.Tree, error) {
	t.Helper()
	return attestationtree.BuildFromPrefixes(
		commitmentFoliate, storage.commitments,
		locksFoliate, storage.locks,
		storage.stakingContractInfo,
	)
}

type fakeStorage struct {
	commitments         []foliate.StorageEntry
	locks               []foliate.StorageEntry
	stakingContractInfo []byte
}

func (s *fakeStorage) CommitmentEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error) {
	return s.commitments, nil
}
func (s *fakeStorage) LocksEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error) {
	return s.locks, nil
}
func (s *fakeStorage) StakingContractInfo(ctx context.Context, blockHash string) ([]byte, error) {
	return s.stakingContractInfo, nil
}

type fakeSubmitter struct {
	submitted []SubmissionRequest
	failTimes int
}

func (s *fakeSubmitter) Submit(ctx context.Context, req SubmissionRequest) (string, error) {
	if s.failTimes > 0 {
		s.failTimes--
		return "", errors.New("transient rpc error")
	}
	s.submitted = append(s.submitted, req)
	return "0xdeadbeef", nil
}

func (s *fakeSubmitter) PendingNonce(ctx context.Context) (uint64, error) { return 0, nil }

type allowAll struct{}

func (allowAll) CanAttestBlock(signer.AccountID) bool          { return true }
func (allowAll) CanForwardAttestedBlock(signer.AccountID) bool { return true }

// registerAndAttest runs the real registration + attest_block flow so tests
// exercise the same signature-verification path production code does,
// rather than constructing an Attestation by hand.
func registerAndAttest(t *testing.T, eng *attestation.Engine, ks *signer.Store, account signer.AccountID, currentBlock, blockNumber uint32, stateRoot [32]byte) {
	t.Helper()

	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pub signer.PublicKey
	copy(pub[:], crypto.CompressPubkey(&privKey.PublicKey))
	addr, err := signer.UncompressedPublicKeyToAddress(pub)
	if err != nil {
		t.Fatalf("UncompressedPublicKeyToAddress: %v", err)
	}

	regSig, err := signer.SignMessage(privKey, account[:])
	if err != nil {
		t.Fatalf("sign registration: %v", err)
	}
	if err := ks.RegisterKey(account, regSig, pub); err != nil {
		t.Fatalf("RegisterKey: %v", err)
	}

	msg := signer.CreateAttestationMessage(stateRoot[:], blockNumber)
	attSig, err := signer.SignMessage(privKey, msg)
	if err != nil {
		t.Fatalf("sign attestation: %v", err)
	}

	att := attestation.Attestation{
		ProposedPubKey: pub,
		Address20:      addr,
		StateRoot:      stateRoot,
		BlockNumber:    blockNumber,
		Signature:      attSig,
	}
	if err := eng.AttestBlock(account, currentBlock, blockNumber, att); err != nil {
		t.Fatalf("AttestBlock: %v", err)
	}
}

func buildFixture(t *testing.T) (*attestation.Engine, *signer.Store, *foliate.CommitmentMapFoliate, *foliate.LocksStakingFoliate, *fakeStorage, foliate.AccountID) {
	t.Helper()

	commitmentFoliate := foliate.NewCommitmentMapFoliate([]byte("commitment-prefix"))
	locksFoliate := foliate.NewLocksStakingFoliate([]byte("locks-prefix"))

	var account foliate.AccountID
	account[0] = 7
	var contractAddr [20]byte
	contractAddr[0] = 9
	stakingContractInfo := make([]byte, 52)
	copy(stakingContractInfo[32:52], contractAddr[:])

	locksKeys := foliate.KeyTuple{account}
	locksSuffix, err := foliate.StorageKeySuffixFromKeyTuple(locksFoliate, locksKeys)
	if err != nil {
		t.Fatalf("locks suffix: %v", err)
	}
	locksRawKey := append(append([]byte(nil), locksFoliate.StoragePrefixBytes()...), locksSuffix...)

	rawLocksValue := []byte{1}
	rawLocksValue = append(rawLocksValue, []byte("staking ")...)
	amountBytes := make([]byte, 16)
	amountBytes[15] = 5
	rawLocksValue = append(rawLocksValue, amountBytes...)

	storage := &fakeStorage{
		locks:               []foliate.StorageEntry{{Key: locksRawKey, Value: rawLocksValue}},
		stakingContractInfo: stakingContractInfo,
	}

	ks := signer.NewStore()
	eng := attestation.NewEngine(ks, allowAll{})

	return eng, ks, commitmentFoliate, locksFoliate, storage, account
}

func TestForwarder_SkipsBlockWithNoAttestations(t *testing.T) {
	eng, _, commitmentFoliate, locksFoliate, storage, _ := buildFixture(t)
	submitter := &fakeSubmitter{}
	advance := make(chan bool, 1)

	fw := &Forwarder{
		Engine:               eng,
		CommitmentFoliate:    commitmentFoliate,
		LocksFoliate:         locksFoliate,
		Storage:              storage,
		Submitter:            submitter,
		Nonces:               NewNonceTracker(0),
		SelectLeaves:         func([]foliate.StorageEntry) []foliate.KeyTuple { return nil },
		FailClosedOnMismatch: true,
		MaxSubmissionRetries: 3,
		Advance:              advance,
	}

	if err := fw.processBlock(context.Background(), blockstream.Block{Number: 10, Hash: "0xaaa"}); err != nil {
		t.Fatalf("expected no error for a block with zero attestations, got %v", err)
	}
	if len(submitter.submitted) != 0 {
		t.Fatalf("expected no submission for a block with zero attestations")
	}
}

func TestForwarder_SkipsAndReportsOnRootMismatch(t *testing.T) {
	eng, ks, commitmentFoliate, locksFoliate, storage, account := buildFixture(t)
	submitter := &fakeSubmitter{}
	advance := make(chan bool, 1)

	var attestorAccount signer.AccountID
	attestorAccount[0] = 42
	var wrongRoot [32]byte
	wrongRoot[0] = 0xFF
	registerAndAttest(t, eng, ks, attestorAccount, 15, 10, wrongRoot)
	_ = account

	fw := &Forwarder{
		Engine:               eng,
		CommitmentFoliate:    commitmentFoliate,
		LocksFoliate:         locksFoliate,
		Storage:              storage,
		Submitter:            submitter,
		Nonces:               NewNonceTracker(0),
		SelectLeaves:         func([]foliate.StorageEntry) []foliate.KeyTuple { return nil },
		FailClosedOnMismatch: true,
		MaxSubmissionRetries: 3,
		Advance:              advance,
	}

	err := fw.processBlock(context.Background(), blockstream.Block{Number: 10, Hash: "0xaaa"})
	var ferr *Error
	if !errors.As(err, &ferr) || ferr.Kind != SetupError {
		t.Fatalf("expected SetupError on root mismatch, got %v", err)
	}
	if len(submitter.submitted) != 0 {
		t.Fatalf("must not submit on root mismatch")
	}
}

func TestForwarder_HaltsOnRootMismatchWhenConfiguredFailOpen(t *testing.T) {
	eng, ks, commitmentFoliate, locksFoliate, storage, _ := buildFixture(t)
	submitter := &fakeSubmitter{}
	advance := make(chan bool, 1)

	var attestorAccount signer.AccountID
	attestorAccount[0] = 42
	var wrongRoot [32]byte
	wrongRoot[0] = 0xFF
	registerAndAttest(t, eng, ks, attestorAccount, 15, 10, wrongRoot)

	fw := &Forwarder{
		Engine:               eng,
		CommitmentFoliate:    commitmentFoliate,
		LocksFoliate:         locksFoliate,
		Storage:              storage,
		Submitter:            submitter,
		Nonces:               NewNonceTracker(0),
		SelectLeaves:         func([]foliate.StorageEntry) []foliate.KeyTuple { return nil },
		FailClosedOnMismatch: false,
		MaxSubmissionRetries: 3,
		Advance:              advance,
	}

	err := fw.processBlock(context.Background(), blockstream.Block{Number: 10, Hash: "0xaaa"})
	if !errors.Is(err, ErrRootMismatchHalted) {
		t.Fatalf("expected ErrRootMismatchHalted, got %v", err)
	}
}

func TestForwarder_SubmitsProofsAndMarksForwardedOnRootMatch(t *testing.T) {
	eng, ks, commitmentFoliate, locksFoliate, storage, account := buildFixture(t)
	submitter := &fakeSubmitter{}
	advance := make(chan bool, 1)

	// Build the same tree the forwarder will rebuild, to learn its root for
	// the attestation fixture below.
	tree, err := buildExpectedTree(t, commitmentFoliate, locksFoliate, storage)
	if err != nil {
		t.Fatalf("buildExpectedTree: %v", err)
	}
	var root [32]byte
	copy(root[:], tree.Root())

	var attestorAccount signer.AccountID
	attestorAccount[0] = 42
	registerAndAttest(t, eng, ks, attestorAccount, 15, 10, root)

	fw := &Forwarder{
		Engine:            eng,
		CommitmentFoliate: commitmentFoliate,
		LocksFoliate:      locksFoliate,
		Storage:           storage,
		Submitter:         submitter,
		Nonces:            NewNonceTracker(100),
		SelectLeaves: func([]foliate.StorageEntry) []foliate.KeyTuple {
			return []foliate.KeyTuple{foliate.KeyTuple{account}}
		},
		FailClosedOnMismatch: true,
		MaxSubmissionRetries: 3,
		Advance:              advance,
	}

	if err := fw.processBlock(context.Background(), blockstream.Block{Number: 10, Hash: "0xaaa"}); err != nil {
		t.Fatalf("processBlock: %v", err)
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(submitter.submitted))
	}
	if submitter.submitted[0].Nonce != 100 {
		t.Fatalf("expected nonce 100, got %d", submitter.submitted[0].Nonce)
	}
	if len(submitter.submitted[0].Leaves) != 1 {
		t.Fatalf("expected one proved leaf, got %d", len(submitter.submitted[0].Leaves))
	}

	last, ok := eng.LastForwardedBlock()
	if !ok || last != 10 {
		t.Fatalf("expected LastForwardedBlock=10, got %d (ok=%v)", last, ok)
	}
}

func TestForwarder_RetriesSubmissionOnTransientFailure(t *testing.T) {
	eng, ks, commitmentFoliate, locksFoliate, storage, account := buildFixture(t)
	submitter := &fakeSubmitter{failTimes: 2}
	advance := make(chan bool, 1)

	tree, err := buildExpectedTree(t, commitmentFoliate, locksFoliate, storage)
	if err != nil {
		t.Fatalf("buildExpectedTree: %v", err)
	}
	var root [32]byte
	copy(root[:], tree.Root())

	var attestorAccount signer.AccountID
	attestorAccount[0] = 42
	registerAndAttest(t, eng, ks, attestorAccount, 15, 10, root)

	fw := &Forwarder{
		Engine:            eng,
		CommitmentFoliate: commitmentFoliate,
		LocksFoliate:      locksFoliate,
		Storage:           storage,
		Submitter:         submitter,
		Nonces:            NewNonceTracker(0),
		SelectLeaves: func([]foliate.StorageEntry) []foliate.KeyTuple {
			return []foliate.KeyTuple{foliate.KeyTuple{account}}
		},
		FailClosedOnMismatch: true,
		MaxSubmissionRetries: 5,
		Advance:              advance,
	}

	if err := fw.processBlock(context.Background(), blockstream.Block{Number: 10, Hash: "0xaaa"}); err != nil {
		t.Fatalf("processBlock: %v", err)
	}
	if len(submitter.submitted) != 1 {
		t.Fatalf("expected eventual success after retries, got %d submissions", len(submitter.submitted))
	}
}

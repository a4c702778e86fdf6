// Copyright 2025 Certen Protocol
//
// RPC surface: the three read-only methods external callers use to fetch
// attestations for a block, the best recently-attested block, and
// Merkle-proven commitments for a caller-supplied proof plan. Method names
// follow go-ethereum's rpc.Server convention of <namespace>_<lowerFirst
// method> — registering AttestationsService under namespace "attestations_v1"
// exposes AttestationsForBlock as "attestations_v1_attestationsForBlock",
// matching the wire names directly.
package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	ethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/certen/attestation-bridge/pkg/attestation"
	"github.com/certen/attestation-bridge/pkg/attestationtree"
	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
)

// MaxProofPlanBytes and MaxTablesPerQuery are the enforced limits on
// commitments_v1_verifiableCommitmentsForProofPlan.
const (
	MaxProofPlanBytes = 4 * 1024 * 1024
	MaxTablesPerQuery = 64
)

// ErrorKind classifies an RPC-layer rejection distinct from the
// underlying component errors it wraps.
type ErrorKind int

const (
	ProofPlanSizeLimit ErrorKind = iota
	NumTablesLimit
	NoSuchCommitment
	NoStakingContract
)

func (k ErrorKind) String() string {
	switch k {
	case ProofPlanSizeLimit:
		return "ProofPlanSizeLimit"
	case NumTablesLimit:
		return "NumTablesLimit"
	case NoSuchCommitment:
		return "NoSuchCommitment"
	case NoStakingContract:
		return "NoStakingContract"
	default:
		return "Unknown"
	}
}

// Error is returned by this package's RPC methods.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpc: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("rpc: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// TreeSource rebuilds the attestation tree and its raw commitment entries
// for a given block hash, the same way the forwarder does internally.
type TreeSource interface {
	BuildTreeAt(ctx context.Context, blockHash string) (tree *merkle.Tree, commitmentEntries []foliate.StorageEntry, err error)
}

// AttestationWire is an attestation's external JSON shape: hex-encoded
// binary fields, matching the RPC boundary's lowercase-0x-hex convention.
type AttestationWire struct {
	ProposedPubKey string `json:"proposed_pub_key"`
	Address20      string `json:"address20"`
	StateRoot      string `json:"state_root"`
	BlockNumber    uint32 `json:"block_number"`
	Signature      string `json:"signature"`
}

func toWire(a attestation.Attestation) AttestationWire {
	sig := make([]byte, 0, 65)
	sig = append(sig, a.Signature.R[:]...)
	sig = append(sig, a.Signature.S[:]...)
	sig = append(sig, a.Signature.V)
	return AttestationWire{
		ProposedPubKey: "0x" + hex.EncodeToString(a.ProposedPubKey[:]),
		Address20:      "0x" + hex.EncodeToString(a.Address20[:]),
		StateRoot:      "0x" + hex.EncodeToString(a.StateRoot[:]),
		BlockNumber:    a.BlockNumber,
		Signature:      "0x" + hex.EncodeToString(sig),
	}
}

// AttestationsForBlockResult is the return shape of attestationsForBlock.
type AttestationsForBlockResult struct {
	Attestations            []AttestationWire `json:"attestations"`
	AttestationsFor         string            `json:"attestations_for"`
	AttestationsForBlockNum uint32            `json:"attestations_for_block_number"`
	At                      string            `json:"at,omitempty"`
}

// BestRecentAttestationsResult is the return shape of bestRecentAttestations.
type BestRecentAttestationsResult struct {
	BlockNumber  uint32 `json:"block_number"`
	Count        int    `json:"attestation_count"`
	At           string `json:"at,omitempty"`
}

// RecentAttestationWindowBlocks approximates "the last ~10 minutes of
// blocks" as a fixed block-count window (6-second blocks), since this
// package has no wall-clock-to-block mapping of its own.
const RecentAttestationWindowBlocks = 100

// AttestationsService implements attestations_v1_*.
type AttestationsService struct {
	Engine *attestation.Engine
	// ResolveBlockHash maps a block hash to its number; populated by
	// whatever component observes the chain (typically the block stream).
	ResolveBlockHash func(blockHash string) (uint32, bool)
	// HeadBlock reports the current head block number, for
	// bestRecentAttestations's scan window.
	HeadBlock func() uint32
}

// AttestationsForBlock returns the recorded attestations for blockHash.
func (s *AttestationsService) AttestationsForBlock(blockHash string, at *string) (AttestationsForBlockResult, error) {
	blockNumber, ok := s.ResolveBlockHash(blockHash)
	if !ok {
		return AttestationsForBlockResult{}, fmt.Errorf("rpc: unknown block hash %s", blockHash)
	}
	atts := s.Engine.AttestationsForBlock(blockNumber)
	wire := make([]AttestationWire, 0, len(atts))
	for _, a := range atts {
		wire = append(wire, toWire(a))
	}

	result := AttestationsForBlockResult{
		Attestations:            wire,
		AttestationsFor:         blockHash,
		AttestationsForBlockNum: blockNumber,
	}
	if at != nil {
		result.At = *at
	}
	return result, nil
}

// BestRecentAttestations scans the recent-block window and returns the
// block with the most attestations, tying toward the largest block number.
func (s *AttestationsService) BestRecentAttestations(at *string) (BestRecentAttestationsResult, error) {
	head := s.HeadBlock()
	blockNumber, count, ok := s.Engine.BestRecentAttestedBlock(head, RecentAttestationWindowBlocks)
	if !ok {
		return BestRecentAttestationsResult{}, fmt.Errorf("rpc: no attestations in the last %d blocks", RecentAttestationWindowBlocks)
	}
	result := BestRecentAttestationsResult{BlockNumber: blockNumber, Count: count}
	if at != nil {
		result.At = *at
	}
	return result, nil
}

// VerifiableCommitment is one table's commitment and its inclusion proof.
type VerifiableCommitment struct {
	CommitmentHex string   `json:"commitment_hex"`
	MerkleProof   []string `json:"merkle_proof"`
}

// VerifiableCommitmentsResult is the return shape of
// verifiableCommitmentsForProofPlan.
type VerifiableCommitmentsResult struct {
	VerifiableCommitments map[string]VerifiableCommitment `json:"verifiable_commitments"`
	At                    string                           `json:"at,omitempty"`
}

// CommitmentsService implements commitments_v1_*.
type CommitmentsService struct {
	Foliate *foliate.CommitmentMapFoliate
	Trees   TreeSource
}

// proofPlanTable is one requested table in a proof plan, as decoded from
// the caller-supplied JSON array of "namespace.name" strings.
type proofPlanTable = string

// VerifiableCommitmentsForProofPlan decodes proofPlanHex (a 0x-prefixed hex
// encoding of a JSON array of "namespace.name" table identifiers),
// rebuilds the attestation tree at blockHash, and returns each requested
// table's commitment with its Merkle inclusion proof.
func (s *CommitmentsService) VerifiableCommitmentsForProofPlan(ctx context.Context, proofPlanHex string, scheme foliate.CommitmentScheme, blockHash string, at *string) (VerifiableCommitmentsResult, error) {
	raw, err := hex.DecodeString(trimHexPrefix(proofPlanHex))
	if err != nil {
		return VerifiableCommitmentsResult{}, fmt.Errorf("rpc: decode proof plan: %w", err)
	}
	if len(raw) > MaxProofPlanBytes {
		return VerifiableCommitmentsResult{}, &Error{Kind: ProofPlanSizeLimit, Err: fmt.Errorf("proof plan is %d bytes, limit is %d", len(raw), MaxProofPlanBytes)}
	}

	var tables []proofPlanTable
	if err := json.Unmarshal(raw, &tables); err != nil {
		return VerifiableCommitmentsResult{}, fmt.Errorf("rpc: decode proof plan tables: %w", err)
	}
	if len(tables) > MaxTablesPerQuery {
		return VerifiableCommitmentsResult{}, &Error{Kind: NumTablesLimit, Err: fmt.Errorf("proof plan requests %d tables, limit is %d", len(tables), MaxTablesPerQuery)}
	}

	tree, commitmentEntries, err := s.Trees.BuildTreeAt(ctx, blockHash)
	if err != nil {
		return VerifiableCommitmentsResult{}, fmt.Errorf("rpc: rebuild tree at %s: %w", blockHash, err)
	}

	out := make(map[string]VerifiableCommitment, len(tables))
	for _, full := range tables {
		ns, name, ok := splitTableIdentifier(full)
		if !ok {
			return VerifiableCommitmentsResult{}, fmt.Errorf("rpc: malformed table identifier %q", full)
		}

		var value interface{}
		found := false
		for _, e := range commitmentEntries {
			keys, decoded, derr := foliate.DecodeStorageKeyAndValue(s.Foliate, e.Key, e.Value)
			if derr != nil {
				continue
			}
			ti := keys[0].(foliate.TableIdentifier)
			sc := keys[1].(foliate.CommitmentScheme)
			if ti.Namespace == ns && ti.Name == name && sc == scheme {
				value = decoded
				found = true
				break
			}
		}
		if !found {
			return VerifiableCommitmentsResult{}, &Error{Kind: NoSuchCommitment, Err: fmt.Errorf("no commitment for table %q", full)}
		}

		proof, err := attestationtree.ProveLeafPair(tree, s.Foliate, foliate.KeyTuple{foliate.TableIdentifier{Namespace: ns, Name: name}, scheme}, value)
		if err != nil {
			return VerifiableCommitmentsResult{}, fmt.Errorf("rpc: prove table %q: %w", full, err)
		}

		path := make([]string, 0, len(proof.Path))
		for _, node := range proof.Path {
			path = append(path, node.Hash)
		}
		out[full] = VerifiableCommitment{
			CommitmentHex: "0x" + hex.EncodeToString(value.(foliate.TableCommitmentBytes)),
			MerkleProof:   path,
		}
	}

	result := VerifiableCommitmentsResult{VerifiableCommitments: out}
	if at != nil {
		result.At = *at
	}
	return result, nil
}

func splitTableIdentifier(full string) (namespace, name string, ok bool) {
	for i := 0; i < len(full); i++ {
		if full[i] == '.' {
			return full[:i], full[i+1:], true
		}
	}
	return "", "", false
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// NewServer builds a go-ethereum rpc.Server with both services registered
// under their namespaces.
func NewServer(attestations *AttestationsService, commitments *CommitmentsService) (*ethrpc.Server, error) {
	server := ethrpc.NewServer()
	if err := server.RegisterName("attestations_v1", attestations); err != nil {
		return nil, fmt.Errorf("rpc: register attestations_v1: %w", err)
	}
	if err := server.RegisterName("commitments_v1", commitments); err != nil {
		return nil, fmt.Errorf("rpc: register commitments_v1: %w", err)
	}
	return server, nil
}

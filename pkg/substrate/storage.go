// Copyright 2025 Certen Protocol
//
// Origin-chain storage source: fetches the commitment map and locks
// descendant-value iterators, and the staking contract info point read, over
// the same style of raw JSON-RPC call blockstream.RPCHashFetcher uses for
// chain_getBlockHash. No Substrate client SDK appears anywhere in the
// example pack, so this talks the wire protocol directly through
// go-ethereum's generic rpc.Client rather than pulling in an unseen library.
package substrate

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/certen/attestation-bridge/pkg/attestationtree"
	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/merkle"
)

// StorageSource implements forwarder.StorageSource against a live node's
// state_getKeysPaged / state_queryStorageAt JSON-RPC surface.
type StorageSource struct {
	client              *rpc.Client
	commitmentFoliate   *foliate.CommitmentMapFoliate
	locksFoliate        *foliate.LocksStakingFoliate
	commitmentPrefixHex string
	locksPrefixHex      string
	stakingInfoKeyHex   string
	pageSize            int
}

// NewStorageSource builds a StorageSource bound to client, taking the two
// storage prefixes from the foliates and the staking-contract-info key as
// raw bytes, and hex-encoding all three for the RPC calls.
func NewStorageSource(client *rpc.Client, commitmentFoliate *foliate.CommitmentMapFoliate, locksFoliate *foliate.LocksStakingFoliate, stakingInfoKey []byte) *StorageSource {
	return &StorageSource{
		client:              client,
		commitmentFoliate:   commitmentFoliate,
		locksFoliate:        locksFoliate,
		commitmentPrefixHex: hexPrefix(commitmentFoliate.StoragePrefixBytes()),
		locksPrefixHex:      hexPrefix(locksFoliate.StoragePrefixBytes()),
		stakingInfoKeyHex:   hexPrefix(stakingInfoKey),
		pageSize:            1000,
	}
}

func hexPrefix(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// CommitmentEntries implements forwarder.StorageSource.
func (s *StorageSource) CommitmentEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error) {
	return s.descendantEntries(ctx, s.commitmentPrefixHex, blockHash)
}

// LocksEntries implements forwarder.StorageSource.
func (s *StorageSource) LocksEntries(ctx context.Context, blockHash string) ([]foliate.StorageEntry, error) {
	return s.descendantEntries(ctx, s.locksPrefixHex, blockHash)
}

// StakingContractInfo implements forwarder.StorageSource.
func (s *StorageSource) StakingContractInfo(ctx context.Context, blockHash string) ([]byte, error) {
	var result *string
	if err := s.client.CallContext(ctx, &result, "state_getStorage", s.stakingInfoKeyHex, blockHash); err != nil {
		return nil, fmt.Errorf("substrate: state_getStorage(staking_contract_info): %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("substrate: staking_contract_info absent at block %s", blockHash)
	}
	return decodeHex(*result)
}

// descendantEntries pages through state_getKeysPaged under prefix and
// resolves each key's value with state_queryStorageAt, matching the two
// descendant-value iterators the forwarder needs for tree rebuilding.
func (s *StorageSource) descendantEntries(ctx context.Context, prefixHex string, blockHash string) ([]foliate.StorageEntry, error) {
	var entries []foliate.StorageEntry
	startKey := ""

	for {
		var keys []string
		if err := s.client.CallContext(ctx, &keys, "state_getKeysPaged", prefixHex, s.pageSize, startKey, blockHash); err != nil {
			return nil, fmt.Errorf("substrate: state_getKeysPaged(%s): %w", prefixHex, err)
		}
		if len(keys) == 0 {
			break
		}

		type queryResult struct {
			Block   string              `json:"block"`
			Changes [][2]*string        `json:"changes"`
		}
		var results []queryResult
		if err := s.client.CallContext(ctx, &results, "state_queryStorageAt", keys, blockHash); err != nil {
			return nil, fmt.Errorf("substrate: state_queryStorageAt(%s): %w", prefixHex, err)
		}

		for _, r := range results {
			for _, change := range r.Changes {
				keyHex, valueHex := change[0], change[1]
				if keyHex == nil || valueHex == nil {
					continue
				}
				keyBytes, err := decodeHex(*keyHex)
				if err != nil {
					return nil, fmt.Errorf("substrate: decode storage key: %w", err)
				}
				valueBytes, err := decodeHex(*valueHex)
				if err != nil {
					return nil, fmt.Errorf("substrate: decode storage value: %w", err)
				}
				entries = append(entries, foliate.StorageEntry{Key: keyBytes, Value: valueBytes})
			}
		}

		if len(keys) < s.pageSize {
			break
		}
		startKey = keys[len(keys)-1]
	}

	return entries, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// BuildTreeAt implements pkg/rpc's TreeSource: it fetches both descendant
// iterators and the staking contract info at blockHash and rebuilds the
// attestation tree exactly as the forwarder does for submission, so RPC
// reads and forwarded submissions always agree on the same root.
func (s *StorageSource) BuildTreeAt(ctx context.Context, blockHash string) (*merkle.Tree, []foliate.StorageEntry, error) {
	commitmentEntries, err := s.CommitmentEntries(ctx, blockHash)
	if err != nil {
		return nil, nil, err
	}
	locksEntries, err := s.LocksEntries(ctx, blockHash)
	if err != nil {
		return nil, nil, err
	}
	stakingContractInfo, err := s.StakingContractInfo(ctx, blockHash)
	if err != nil {
		return nil, nil, err
	}

	tree, err := attestationtree.BuildFromPrefixes(s.commitmentFoliate, commitmentEntries, s.locksFoliate, locksEntries, stakingContractInfo)
	if err != nil {
		return nil, nil, err
	}
	return tree, commitmentEntries, nil
}

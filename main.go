// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/certen/attestation-bridge/pkg/attestation"
	"github.com/certen/attestation-bridge/pkg/blockstream"
	"github.com/certen/attestation-bridge/pkg/config"
	"github.com/certen/attestation-bridge/pkg/ethereum"
	"github.com/certen/attestation-bridge/pkg/foliate"
	"github.com/certen/attestation-bridge/pkg/forwarder"
	rpcpkg "github.com/certen/attestation-bridge/pkg/rpc"
	"github.com/certen/attestation-bridge/pkg/signer"
	"github.com/certen/attestation-bridge/pkg/substrate"
)

func main() {
	app := &cli.App{
		Name:  "attestation-bridge",
		Usage: "forwards finalized attestations and their storage proofs to an external contract",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file layered on top of environment-derived defaults", EnvVars: []string{"CONFIG_FILE"}},
			&cli.StringFlag{Name: "rpc-url", Usage: "external contract chain's RPC URL", EnvVars: []string{"ETHEREUM_URL"}},
			&cli.StringFlag{Name: "substrate-rpc-url", Usage: "origin chain's RPC URL", EnvVars: []string{"SUBSTRATE_RPC_URL"}},
			&cli.StringFlag{Name: "contract-address", Usage: "external attestation contract address", EnvVars: []string{"CONTRACT_ADDRESS"}},
			&cli.StringFlag{Name: "eth-key-path", Usage: "file containing a hex-encoded 32-byte private key for external contract submission", EnvVars: []string{"ETH_KEY_PATH"}},
			&cli.StringFlag{Name: "substrate-key-path", Usage: "file containing a hex-encoded 32-byte private key for the origin chain", EnvVars: []string{"SUBSTRATE_KEY_PATH"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "integration-test",
				Usage: "dials both chain endpoints and validates configuration without forwarding",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfigFromFlags(c)
					if err != nil {
						return err
					}
					return runIntegrationTest(cfg)
				},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfigFromFlags(c)
			if err != nil {
				return err
			}
			return runForwarder(cfg)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("attestation-bridge: %v", err)
	}
}

// loadConfigFromFlags reads environment-backed configuration, then applies
// any CLI flags given explicitly, then validates the result.
func loadConfigFromFlags(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFromFile(path, cfg)
		if err != nil {
			return nil, err
		}
	}

	if v := c.String("rpc-url"); v != "" {
		cfg.EthereumURL = v
	}
	if v := c.String("substrate-rpc-url"); v != "" {
		cfg.SubstrateRPCURL = v
	}
	if v := c.String("contract-address"); v != "" {
		cfg.ContractAddress = v
	}
	if v := c.String("eth-key-path"); v != "" {
		cfg.EthKeyPath = v
	}
	if v := c.String("substrate-key-path"); v != "" {
		cfg.SubstrateKeyPath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readHexKeyFile reads a file containing a single hex-encoded 32-byte
// private key, tolerating an optional 0x prefix and surrounding whitespace.
func readHexKeyFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file %s: %w", path, err)
	}
	key := strings.TrimSpace(string(raw))
	key = strings.TrimPrefix(key, "0x")
	if _, err := hex.DecodeString(key); err != nil {
		return "", fmt.Errorf("key file %s does not contain valid hex: %w", path, err)
	}
	if len(key) != 64 {
		return "", fmt.Errorf("key file %s: expected 32-byte key, got %d bytes", path, len(key)/2)
	}
	return key, nil
}

// runIntegrationTest exercises configuration and connectivity only: it
// dials both chain endpoints, prints the address derived from the Ethereum
// key file and checks that the substrate key file holds a 32-byte hex key,
// but issues no attestations and forwards nothing.
func runIntegrationTest(cfg *config.Config) error {
	ctx := context.Background()

	ethHex, err := readHexKeyFile(cfg.EthKeyPath)
	if err != nil {
		return err
	}
	ethPriv, err := crypto.HexToECDSA(ethHex)
	if err != nil {
		return fmt.Errorf("parse eth key: %w", err)
	}
	fmt.Printf("eth submitter address: %s\n", crypto.PubkeyToAddress(ethPriv.PublicKey).Hex())

	ethClient, err := ethereum.NewClient(cfg.EthereumURL, cfg.EthChainID)
	if err != nil {
		return fmt.Errorf("dial ethereum rpc: %w", err)
	}
	if err := ethClient.Health(ctx); err != nil {
		return fmt.Errorf("ethereum health check: %w", err)
	}
	fmt.Println("ethereum rpc: ok")

	substrateClient, err := rpc.DialContext(ctx, cfg.SubstrateRPCURL)
	if err != nil {
		return fmt.Errorf("dial substrate rpc: %w", err)
	}
	defer substrateClient.Close()
	var health interface{}
	if err := substrateClient.CallContext(ctx, &health, "system_health"); err != nil {
		return fmt.Errorf("substrate health check: %w", err)
	}
	fmt.Println("substrate rpc: ok")

	if _, err := readHexKeyFile(cfg.SubstrateKeyPath); err != nil {
		return err
	}
	fmt.Println("integration-test: all checks passed")
	return nil
}

// runForwarder starts the block stream and the forwarder loop, running
// until the process receives an interrupt or the stream terminates.
func runForwarder(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ethPrivHex, err := readHexKeyFile(cfg.EthKeyPath)
	if err != nil {
		return err
	}

	ethClient, err := ethereum.NewClient(cfg.EthereumURL, cfg.EthChainID)
	if err != nil {
		return fmt.Errorf("dial ethereum rpc: %w", err)
	}
	submitter, err := ethereum.NewContractSubmitter(ethClient, cfg.ContractAddress, ethPrivHex, cfg.ContractGasLimit)
	if err != nil {
		return fmt.Errorf("build contract submitter: %w", err)
	}

	startingNonce, err := submitter.PendingNonce(ctx)
	if err != nil {
		return fmt.Errorf("fetch starting nonce: %w", err)
	}

	hashFetcher, err := blockstream.DialRPCHashFetcher(ctx, cfg.SubstrateRPCURL)
	if err != nil {
		return fmt.Errorf("dial substrate rpc: %w", err)
	}
	defer hashFetcher.Close()

	substrateClient, err := rpc.DialContext(ctx, cfg.SubstrateRPCURL)
	if err != nil {
		return fmt.Errorf("dial substrate rpc for storage: %w", err)
	}
	defer substrateClient.Close()

	commitmentPrefix, err := decodeHexPrefix(cfg.CommitmentStoragePrefixHex)
	if err != nil {
		return fmt.Errorf("COMMITMENT_STORAGE_PREFIX: %w", err)
	}
	locksPrefix, err := decodeHexPrefix(cfg.LocksStoragePrefixHex)
	if err != nil {
		return fmt.Errorf("LOCKS_STORAGE_PREFIX: %w", err)
	}
	stakingInfoKey, err := decodeHexPrefix(cfg.StakingInfoKeyHex)
	if err != nil {
		return fmt.Errorf("STAKING_INFO_KEY: %w", err)
	}

	commitmentFoliate := foliate.NewCommitmentMapFoliate(commitmentPrefix)
	locksFoliate := foliate.NewLocksStakingFoliate(locksPrefix)
	storage := substrate.NewStorageSource(substrateClient, commitmentFoliate, locksFoliate, stakingInfoKey)

	keystore := signer.NewStore()
	engine := attestation.NewEngine(keystore, allowAllPermissions{})

	startBlock := cfg.StartBlock
	if startBlock == 0 {
		if last, ok := engine.LastForwardedBlock(); ok {
			startBlock = last + 1
		}
	}

	advance := make(chan bool)
	stream := blockstream.NewIncrementingBlockStream(startBlock, hashFetcher, advance)
	rawBlocks, streamErrs := stream.Blocks(ctx)

	index := newBlockHashIndex()
	blocks := make(chan blockstream.Block)
	go func() {
		defer close(blocks)
		for blk := range rawBlocks {
			index.record(blk.Hash, blk.Number)
			blocks <- blk
		}
	}()

	fwd := &forwarder.Forwarder{
		Engine:               engine,
		CommitmentFoliate:    commitmentFoliate,
		LocksFoliate:         locksFoliate,
		Storage:              storage,
		Submitter:            submitter,
		Nonces:               forwarder.NewNonceTracker(startingNonce),
		SelectLeaves:         newSelectAllLockLeaves(locksFoliate),
		FailClosedOnMismatch: cfg.FailClosedOnRootMismatch,
		MaxSubmissionRetries: cfg.MaxSubmissionRetries,
		Advance:              advance,
		Logger:               log.Default(),
	}

	go func() {
		for err := range streamErrs {
			log.Printf("block stream: %v", err)
		}
	}()

	if cfg.RPCListenAddr != "" {
		if err := startRPCServer(cfg.RPCListenAddr, engine, index, commitmentFoliate, storage); err != nil {
			return fmt.Errorf("start rpc server: %w", err)
		}
	}

	return fwd.Run(ctx, blocks)
}

// blockHashIndex is the forwarder's local memory of which block hash
// corresponds to which block number, populated as the stream yields
// blocks. The RPC server uses it to resolve attestationsForBlock's
// block_hash argument.
type blockHashIndex struct {
	mu       sync.RWMutex
	byHash   map[string]uint32
	headSeen uint32
}

func newBlockHashIndex() *blockHashIndex {
	return &blockHashIndex{byHash: make(map[string]uint32)}
}

func (b *blockHashIndex) record(hash string, number uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byHash[hash] = number
	if number > b.headSeen {
		b.headSeen = number
	}
}

func (b *blockHashIndex) resolve(hash string) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.byHash[hash]
	return n, ok
}

func (b *blockHashIndex) head() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.headSeen
}

func startRPCServer(addr string, engine *attestation.Engine, index *blockHashIndex, commitmentFoliate *foliate.CommitmentMapFoliate, trees rpcpkg.TreeSource) error {
	server, err := rpcpkg.NewServer(
		&rpcpkg.AttestationsService{Engine: engine, ResolveBlockHash: index.resolve, HeadBlock: index.head},
		&rpcpkg.CommitmentsService{Foliate: commitmentFoliate, Trees: trees},
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", server)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("rpc server: %v", err)
		}
	}()
	return nil
}

func decodeHexPrefix(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// newSelectAllLockLeaves returns a forwarder.LeafSelector that forwards
// every locks entry present in the block, recovering each entry's account
// id by reversing locksFoliate's key hasher; a deployment with a narrower
// relay policy can inject a different forwarder.LeafSelector. Entries whose
// key doesn't decode against locksFoliate (wrong prefix, truncated suffix)
// are skipped rather than forwarded with a garbage key tuple.
func newSelectAllLockLeaves(locksFoliate *foliate.LocksStakingFoliate) forwarder.LeafSelector {
	return func(locksEntries []foliate.StorageEntry) []foliate.KeyTuple {
		var out []foliate.KeyTuple
		for _, e := range locksEntries {
			keys, err := foliate.DecodeStorageKey(locksFoliate, e.Key)
			if err != nil {
				continue
			}
			out = append(out, keys)
		}
		return out
	}
}

// allowAllPermissions is the single-operator permission policy: this binary
// runs as the sole attestor/forwarder for its configured account.
type allowAllPermissions struct{}

func (allowAllPermissions) CanAttestBlock(signer.AccountID) bool         { return true }
func (allowAllPermissions) CanForwardAttestedBlock(signer.AccountID) bool { return true }

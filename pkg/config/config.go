// Copyright 2025 Certen Protocol
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the forwarder's runtime configuration. CLI flags take
// precedence over these when both are present; Load reads the environment so
// the forwarder can also run unattended (e.g. under a process supervisor).
type Config struct {
	// EthereumURL is the RPC endpoint of the chain the attestation contract
	// is deployed on.
	EthereumURL string `yaml:"ethereum_url"`
	EthChainID  int64  `yaml:"eth_chain_id"`

	// SubstrateRPCURL is the origin chain's JSON-RPC endpoint, used for
	// chain_getBlockHash and storage iteration.
	SubstrateRPCURL string `yaml:"substrate_rpc_url"`

	// ContractAddress is the external attestation contract's address.
	ContractAddress string `yaml:"contract_address"`

	// EthKeyPath and SubstrateKeyPath point to files containing a
	// hex-encoded 32-byte private key.
	EthKeyPath       string `yaml:"eth_key_path"`
	SubstrateKeyPath string `yaml:"substrate_key_path"`

	// StartBlock overrides the forwarder's starting block. When zero the
	// forwarder resumes from LastForwardedBlock + 1.
	StartBlock uint32 `yaml:"start_block"`

	// FailClosedOnRootMismatch selects the forwarder's behavior when a
	// rebuilt attestation tree's root does not match an attestation's
	// claimed state_root: true (default) skips and reports the block
	// without submitting; false halts the forwarder entirely.
	FailClosedOnRootMismatch bool `yaml:"fail_closed_on_root_mismatch"`

	// MaxSubmissionRetries bounds the forwarder's exponential backoff retry
	// loop for external contract submissions.
	MaxSubmissionRetries int `yaml:"max_submission_retries"`

	// CommitmentStoragePrefixHex and LocksStoragePrefixHex are the origin
	// chain's 32-byte (Blake2_128 pallet name ++ Blake2_128 storage name)
	// storage prefixes, hex-encoded. StakingInfoKeyHex is the full storage
	// key of the single global staking contract record.
	CommitmentStoragePrefixHex string `yaml:"commitment_storage_prefix"`
	LocksStoragePrefixHex      string `yaml:"locks_storage_prefix"`
	StakingInfoKeyHex          string `yaml:"staking_info_key"`

	// ContractGasLimit bounds the gas limit on the forwarder's
	// submitAttestation transaction.
	ContractGasLimit uint64 `yaml:"contract_gas_limit"`

	// RPCListenAddr is the address the attestations_v1/commitments_v1 RPC
	// server listens on. Empty disables the RPC server.
	RPCListenAddr string `yaml:"rpc_listen_addr"`

	LogLevel string `yaml:"log_level"`
}

// Load reads forwarder configuration from the environment. Call Validate
// after Load (and after applying any CLI flag overrides) before starting the
// forwarder.
func Load() (*Config, error) {
	cfg := &Config{
		EthereumURL:      getEnv("ETHEREUM_URL", ""),
		EthChainID:       getEnvInt64("ETH_CHAIN_ID", 11155111),
		SubstrateRPCURL:  getEnv("SUBSTRATE_RPC_URL", ""),
		ContractAddress:  getEnv("CONTRACT_ADDRESS", ""),
		EthKeyPath:       getEnv("ETH_KEY_PATH", ""),
		SubstrateKeyPath: getEnv("SUBSTRATE_KEY_PATH", ""),
		StartBlock:       uint32(getEnvInt("START_BLOCK", 0)),

		FailClosedOnRootMismatch: getEnvBool("FAIL_CLOSED_ON_ROOT_MISMATCH", true),
		MaxSubmissionRetries:     getEnvInt("MAX_SUBMISSION_RETRIES", 5),

		CommitmentStoragePrefixHex: getEnv("COMMITMENT_STORAGE_PREFIX", ""),
		LocksStoragePrefixHex:      getEnv("LOCKS_STORAGE_PREFIX", ""),
		StakingInfoKeyHex:          getEnv("STAKING_INFO_KEY", ""),
		ContractGasLimit:           uint64(getEnvInt("CONTRACT_GAS_LIMIT", 500000)),
		RPCListenAddr:              getEnv("RPC_LISTEN_ADDR", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that all fields required to start the forwarder are
// present. Configuration errors are Fatal per the error handling design: the
// process must not start with incomplete configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.EthereumURL == "" {
		errs = append(errs, "ETHEREUM_URL (--rpc-url) is required")
	}
	if c.SubstrateRPCURL == "" {
		errs = append(errs, "SUBSTRATE_RPC_URL (--substrate-rpc-url) is required")
	}
	if c.ContractAddress == "" {
		errs = append(errs, "CONTRACT_ADDRESS (--contract-address) is required")
	} else if !strings.HasPrefix(c.ContractAddress, "0x") {
		errs = append(errs, "CONTRACT_ADDRESS must be 0x-prefixed")
	}
	if c.EthKeyPath == "" {
		errs = append(errs, "ETH_KEY_PATH (--eth-key-path) is required")
	}
	if c.SubstrateKeyPath == "" {
		errs = append(errs, "SUBSTRATE_KEY_PATH (--substrate-key-path) is required")
	}
	if c.MaxSubmissionRetries <= 0 {
		errs = append(errs, "MAX_SUBMISSION_RETRIES must be positive")
	}
	if c.CommitmentStoragePrefixHex == "" {
		errs = append(errs, "COMMITMENT_STORAGE_PREFIX is required")
	}
	if c.LocksStoragePrefixHex == "" {
		errs = append(errs, "LOCKS_STORAGE_PREFIX is required")
	}
	if c.StakingInfoKeyHex == "" {
		errs = append(errs, "STAKING_INFO_KEY is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// envVarPattern matches ${VAR_NAME} and ${VAR_NAME:-default} references in a
// YAML config file.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// LoadFromFile loads forwarder configuration from a YAML file, expanding
// ${VAR_NAME} and ${VAR_NAME:-default} references against the environment
// before parsing. A zero-value field left unset in the file keeps Load's
// environment-derived default; call Load first and pass its result as base
// to layer a config file on top of environment defaults.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := *base
	expanded := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

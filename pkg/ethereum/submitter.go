// Copyright 2025 Certen Protocol
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/attestation-bridge/pkg/attestation"
	"github.com/certen/attestation-bridge/pkg/forwarder"
)

// submitAttestationABI describes the single entry point the forwarder calls:
// the block number and state root are ABI arguments, and the attestations
// (with their signatures), the leaves with their proofs, the nonce and the
// correlation id travel as one opaque payload blob, JSON-encoded on this
// side and decoded by the contract off its calldata. The call is built with
// abi.JSON + Pack rather than hand-rolled calldata.
const submitAttestationABI = `[{
	"type": "function",
	"name": "submitAttestation",
	"inputs": [
		{"name": "blockNumber", "type": "uint32"},
		{"name": "stateRoot", "type": "bytes32"},
		{"name": "payload", "type": "bytes"}
	],
	"outputs": []
}]`

// ContractSubmitter adapts a Client into a forwarder.ContractSubmitter,
// submitting one transaction per SubmissionRequest to a fixed contract
// address using a fixed signing key.
type ContractSubmitter struct {
	client        *Client
	contractAddr  common.Address
	privateKey    *ecdsa.PrivateKey
	fromAddress   common.Address
	gasLimit      uint64
	contractABI   abi.ABI
}

// NewContractSubmitter builds a ContractSubmitter bound to contractAddrHex,
// signing with privateKeyHex (either prefixed or not).
func NewContractSubmitter(client *Client, contractAddrHex string, privateKeyHex string, gasLimit uint64) (*ContractSubmitter, error) {
	contractABI, err := abi.JSON(strings.NewReader(submitAttestationABI))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse submitAttestation ABI: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("ethereum: parse submitter private key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ethereum: submitter public key is not ECDSA")
	}

	return &ContractSubmitter{
		client:       client,
		contractAddr: common.HexToAddress(contractAddrHex),
		privateKey:   privateKey,
		fromAddress:  crypto.PubkeyToAddress(*publicKeyECDSA),
		gasLimit:     gasLimit,
		contractABI:  contractABI,
	}, nil
}

// Submit implements forwarder.ContractSubmitter.
func (s *ContractSubmitter) Submit(ctx context.Context, req forwarder.SubmissionRequest) (string, error) {
	payload, err := json.Marshal(struct {
		BlockNumber   uint32                      `json:"block_number"`
		Attestations  []attestation.Attestation   `json:"attestations"`
		Leaves        []forwarder.LeafProof       `json:"leaves"`
		Nonce         uint64                      `json:"nonce"`
		CorrelationID string                      `json:"correlation_id"`
	}{
		BlockNumber:   req.BlockNumber,
		Attestations:  req.Attestations,
		Leaves:        req.Leaves,
		Nonce:         req.Nonce,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return "", fmt.Errorf("ethereum: marshal submission payload: %w", err)
	}

	callData, err := s.contractABI.Pack("submitAttestation", req.BlockNumber, req.StateRoot, payload)
	if err != nil {
		return "", fmt.Errorf("ethereum: pack submitAttestation call: %w", err)
	}

	gasPrice, err := s.client.GetGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("ethereum: suggest gas price: %w", err)
	}

	tx := types.NewTransaction(req.Nonce, s.contractAddr, big.NewInt(0), s.gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(s.client.GetChainID()), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("ethereum: sign submitAttestation tx: %w", err)
	}

	if err := s.client.GetClient().SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("ethereum: send submitAttestation tx: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// PendingNonce implements forwarder.ContractSubmitter.
func (s *ContractSubmitter) PendingNonce(ctx context.Context) (uint64, error) {
	return s.client.GetNonce(ctx, s.fromAddress)
}

package beacon

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
)

// EcdsaUpdateResult reports an ECDSA-attested index update.
type EcdsaUpdateResult struct {
	Index  *big.Int    `json:"index"`
	Nonce  *big.Int    `json:"nonce"`
	TxHash common.Hash `json:"tx_hash"`
}

// UpdateECDSA updates an ECDSA beacon: it reads the beacon's verifier
// adapter, checks the pool holds the adapter's designated signer, obtains
// the EIP-712 digest for (measurement, nonce), signs it, and submits
// updateIndex. The nonce is the current unix timestamp, which the adapter
// requires to be strictly increasing.
func (s *Service) UpdateECDSA(ctx context.Context, hashSigner txexec.HashSigner, beacon common.Address, measurement *big.Int) (*EcdsaUpdateResult, error) {
	verifier, err := s.verifierAdapter(ctx, beacon)
	if err != nil {
		return nil, err
	}
	designated, err := s.designatedSigner(ctx, verifier)
	if err != nil {
		return nil, err
	}

	lease, err := s.pool.AcquireAddress(ctx, designated)
	if err != nil {
		return nil, fmt.Errorf("acquire designated signer %s: %w", designated.Hex(), err)
	}
	defer s.releaseLease(lease)

	nonce := big.NewInt(time.Now().Unix())
	digest, err := s.digest(ctx, verifier, measurement, nonce)
	if err != nil {
		return nil, err
	}

	w := lease.Wallet
	signature, err := hashSigner.SignHash(ctx, w.SignerRef, digest)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	inputs, err := abi.Arguments{
		{Type: uint256Type}, {Type: uint256Type},
	}.Pack(measurement, nonce)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	callData, err := chain.EcdsaBeaconABI.Pack("updateIndex", signature, inputs)
	if err != nil {
		return nil, fmt.Errorf("pack updateIndex: %w", err)
	}

	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    beacon,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventIndexUpdated, beacon, receipt.Logs)
	if err != nil {
		return nil, err
	}
	updated := event.(txexec.IndexUpdated)

	s.logger.Info("ecdsa beacon updated",
		zap.String("beacon", beacon.Hex()),
		zap.String("index", updated.Index.String()),
		zap.String("tx", receipt.TxHash.Hex()))
	return &EcdsaUpdateResult{
		Index:  updated.Index,
		Nonce:  nonce,
		TxHash: receipt.TxHash,
	}, nil
}

var uint256Type = mustNewType("uint256")

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func (s *Service) verifierAdapter(ctx context.Context, beacon common.Address) (common.Address, error) {
	callData, err := chain.EcdsaBeaconABI.Pack("verifierAdapter")
	if err != nil {
		return common.Address{}, fmt.Errorf("pack verifierAdapter: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &beacon,
		Data: callData,
	}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("query verifier adapter: %w", err)
	}
	out, err := chain.EcdsaBeaconABI.Unpack("verifierAdapter", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack verifierAdapter: %w", err)
	}
	return out[0].(common.Address), nil
}

func (s *Service) designatedSigner(ctx context.Context, verifier common.Address) (common.Address, error) {
	callData, err := chain.EcdsaVerifierAdapterABI.Pack("SIGNER")
	if err != nil {
		return common.Address{}, fmt.Errorf("pack SIGNER: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &verifier,
		Data: callData,
	}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("query designated signer: %w", err)
	}
	out, err := chain.EcdsaVerifierAdapterABI.Unpack("SIGNER", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack SIGNER: %w", err)
	}
	return out[0].(common.Address), nil
}

func (s *Service) digest(ctx context.Context, verifier common.Address, measurement, nonce *big.Int) (common.Hash, error) {
	callData, err := chain.EcdsaVerifierAdapterABI.Pack("digest", measurement, nonce)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack digest: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &verifier,
		Data: callData,
	}, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("query digest: %w", err)
	}
	out, err := chain.EcdsaVerifierAdapterABI.Unpack("digest", raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unpack digest: %w", err)
	}
	return common.Hash(out[0].([32]byte)), nil
}

package beacon

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
)

// VerifiableCreateResult reports a created verifiable beacon.
type VerifiableCreateResult struct {
	Beacon   common.Address `json:"beacon"`
	Verifier common.Address `json:"verifier"`
	TxHash   common.Hash    `json:"tx_hash"`
}

// CreateVerifiable creates a beacon through the dichotomous factory, bound
// to an on-chain verifier, seeded with initial data and a TWAP observation
// cardinality.
func (s *Service) CreateVerifiable(ctx context.Context, verifier common.Address, initialData *big.Int, initialCardinality uint32) (*VerifiableCreateResult, error) {
	if s.addrs.DichotomousFactory == (common.Address{}) {
		return nil, fmt.Errorf("verifiable beacon factory not configured")
	}

	callData, err := chain.DichotomousFactoryABI.Pack("createBeacon", verifier, initialData, initialCardinality)
	if err != nil {
		return nil, fmt.Errorf("pack createBeacon: %w", err)
	}

	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)

	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.DichotomousFactory,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventDichotomousBeaconCreated, s.addrs.DichotomousFactory, receipt.Logs)
	if err != nil {
		return nil, err
	}
	created := event.(txexec.DichotomousBeaconCreated)

	if err := s.pool.SetDesignated(ctx, created.Beacon.Hex(), w.Address); err != nil {
		s.logger.Warn("failed to record beacon affinity",
			zap.String("beacon", created.Beacon.Hex()), zap.Error(err))
	}

	s.logger.Info("verifiable beacon created",
		zap.String("beacon", created.Beacon.Hex()),
		zap.String("verifier", created.Verifier.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return &VerifiableCreateResult{
		Beacon:   created.Beacon,
		Verifier: created.Verifier,
		TxHash:   receipt.TxHash,
	}, nil
}

// UpdateVerifiable submits a proof-carrying update to a verifiable (step)
// beacon. Wire shape matches the plain beacon update; the beacon's contract
// enforces the verifier.
func (s *Service) UpdateVerifiable(ctx context.Context, beacon common.Address, proof, publicSignals []byte) (*UpdateResult, error) {
	return s.Update(ctx, beacon, proof, publicSignals)
}

// GetTwap reads a verifiable beacon's time-weighted average price over the
// given window.
func (s *Service) GetTwap(ctx context.Context, beacon common.Address, secondsAgo uint32) (*big.Int, error) {
	callData, err := chain.StepBeaconABI.Pack("getTwap", secondsAgo)
	if err != nil {
		return nil, fmt.Errorf("pack getTwap: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &beacon,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("query twap: %w", err)
	}
	out, err := chain.StepBeaconABI.Unpack("getTwap", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getTwap: %w", err)
	}
	return out[0].(*big.Int), nil
}

// IncreaseCardinality grows a verifiable beacon's TWAP observation buffer.
func (s *Service) IncreaseCardinality(ctx context.Context, beacon common.Address, cardinalityNext uint32) (common.Hash, error) {
	callData, err := chain.StepBeaconABI.Pack("increaseCardinalityNext", cardinalityNext)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack increaseCardinalityNext: %w", err)
	}

	lease, err := s.pool.Acquire(ctx, beacon.Hex())
	if err != nil {
		return common.Hash{}, err
	}
	defer s.releaseLease(lease)

	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    beacon,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

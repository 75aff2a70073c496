// Package beacon implements beacon lifecycle operations: creation through
// the factory, registration, proof-carrying data updates, verifiable
// (dichotomous) beacons, ECDSA-attested updates, and the batch paths.
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
	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
)

// Addresses holds the beacon-related contract deployments.
type Addresses struct {
	Factory            common.Address
	Registry           common.Address
	DichotomousFactory common.Address
}

// Service drives beacon operations against the chain through the wallet
// pool and the transaction executor.
type Service struct {
	pool     *wallet.Pool
	executor *txexec.Executor
	batcher  *txexec.Batcher
	clients  *chain.ClientSet
	types    *TypeRegistry
	addrs    Addresses
	logger   *zap.Logger
}

// NewService creates the beacon service.
func NewService(pool *wallet.Pool, executor *txexec.Executor, batcher *txexec.Batcher, clients *chain.ClientSet, types *TypeRegistry, addrs Addresses, logger *zap.Logger) *Service {
	return &Service{
		pool:     pool,
		executor: executor,
		batcher:  batcher,
		clients:  clients,
		types:    types,
		addrs:    addrs,
		logger:   logger,
	}
}

// CreateResult reports a created beacon.
type CreateResult struct {
	Beacon common.Address `json:"beacon"`
	TxHash common.Hash    `json:"tx_hash"`
}

// renewFunc adapts a lease to the executor's in-flight renewal hook.
func (s *Service) renewFunc(lease *wallet.Lease) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return s.pool.Renew(ctx, lease)
	}
}

// Create creates a beacon for the owner via the factory, verifies the
// BeaconCreated event, registers the beacon, and records affinity between
// the new beacon and the wallet that created it.
func (s *Service) Create(ctx context.Context, owner common.Address) (*CreateResult, error) {
	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)

	result, err := s.createWithLease(ctx, owner, lease)
	if err != nil {
		return nil, err
	}

	if _, _, err := s.registerWithLease(ctx, result.Beacon, lease); err != nil {
		// The beacon exists; surface the partial artifact with the error.
		return result, fmt.Errorf("beacon %s created but registration failed: %w", result.Beacon.Hex(), err)
	}
	return result, nil
}

// createWithLease runs the create transaction under an already-held lease.
func (s *Service) createWithLease(ctx context.Context, owner common.Address, lease *wallet.Lease) (*CreateResult, error) {
	callData, err := chain.BeaconFactoryABI.Pack("createBeacon", owner)
	if err != nil {
		return nil, fmt.Errorf("pack createBeacon: %w", err)
	}

	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.Factory,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventBeaconCreated, s.addrs.Factory, receipt.Logs)
	if err != nil {
		return nil, err
	}
	created := event.(txexec.BeaconCreated)

	if err := s.pool.SetDesignated(ctx, created.Beacon.Hex(), w.Address); err != nil {
		s.logger.Warn("failed to record beacon affinity",
			zap.String("beacon", created.Beacon.Hex()), zap.Error(err))
	}

	s.logger.Info("beacon created",
		zap.String("beacon", created.Beacon.Hex()),
		zap.String("owner", owner.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return &CreateResult{Beacon: created.Beacon, TxHash: receipt.TxHash}, nil
}

// Register registers a beacon with the registry. Idempotent: an already
// registered beacon returns a zero hash and no error.
func (s *Service) Register(ctx context.Context, beacon common.Address) (common.Hash, bool, error) {
	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return common.Hash{}, false, err
	}
	defer s.releaseLease(lease)
	return s.registerWithLease(ctx, beacon, lease)
}

func (s *Service) registerWithLease(ctx context.Context, beacon common.Address, lease *wallet.Lease) (common.Hash, bool, error) {
	registered, err := s.IsRegistered(ctx, beacon)
	if err != nil {
		return common.Hash{}, false, err
	}
	if registered {
		s.logger.Info("beacon already registered", zap.String("beacon", beacon.Hex()))
		return common.Hash{}, true, nil
	}

	callData, err := chain.BeaconRegistryABI.Pack("registerBeacon", beacon)
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("pack registerBeacon: %w", err)
	}
	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.Registry,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return common.Hash{}, false, err
	}
	return receipt.TxHash, false, nil
}

// IsRegistered checks the registry's beacons mapping.
func (s *Service) IsRegistered(ctx context.Context, beacon common.Address) (bool, error) {
	callData, err := chain.BeaconRegistryABI.Pack("beacons", beacon)
	if err != nil {
		return false, fmt.Errorf("pack beacons: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.addrs.Registry,
		Data: callData,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("query registry: %w", err)
	}
	out, err := chain.BeaconRegistryABI.Unpack("beacons", raw)
	if err != nil {
		return false, fmt.Errorf("unpack beacons: %w", err)
	}
	return out[0].(bool), nil
}

// UpdateResult reports a beacon data update.
type UpdateResult struct {
	Data   *big.Int    `json:"data"`
	TxHash common.Hash `json:"tx_hash"`
}

// Update submits a proof-carrying updateData transaction to a beacon and
// verifies the DataUpdated event. The beacon's designated wallet is
// preferred so its updates stay serialized on one identity.
func (s *Service) Update(ctx context.Context, beacon common.Address, proof, publicSignals []byte) (*UpdateResult, error) {
	lease, err := s.pool.Acquire(ctx, beacon.Hex())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)
	return s.updateWithLease(ctx, beacon, proof, publicSignals, lease)
}

func (s *Service) updateWithLease(ctx context.Context, beacon common.Address, proof, publicSignals []byte, lease *wallet.Lease) (*UpdateResult, error) {
	callData, err := chain.BeaconABI.Pack("updateData", proof, publicSignals)
	if err != nil {
		return nil, fmt.Errorf("pack updateData: %w", err)
	}
	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    beacon,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventDataUpdated, beacon, receipt.Logs)
	if err != nil {
		return nil, err
	}
	updated := event.(txexec.DataUpdated)

	s.logger.Info("beacon data updated",
		zap.String("beacon", beacon.Hex()),
		zap.String("data", updated.Data.String()),
		zap.String("tx", receipt.TxHash.Hex()))
	return &UpdateResult{Data: updated.Data, TxHash: receipt.TxHash}, nil
}

// GetData reads a beacon's current data and timestamp.
func (s *Service) GetData(ctx context.Context, beacon common.Address) (data, timestamp *big.Int, err error) {
	callData, err := chain.BeaconABI.Pack("getData")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getData: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &beacon,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("query beacon data: %w", err)
	}
	out, err := chain.BeaconABI.Unpack("getData", raw)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getData: %w", err)
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// releaseLease releases with a background context so a caller deadline that
// expired mid-operation cannot leak the lease.
func (s *Service) releaseLease(lease *wallet.Lease) {
	if err := s.pool.Release(context.Background(), lease); err != nil {
		s.logger.Error("failed to release wallet lease",
			zap.String("wallet", lease.Wallet.Address.Hex()), zap.Error(err))
	}
}

package beacon

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
)

// BatchCreate creates count beacons sequentially under one leased wallet,
// continuing past individual failures. Each successful item carries the new
// beacon address as its artifact.
func (s *Service) BatchCreate(ctx context.Context, count int, owner common.Address) (*txexec.BatchSummary, error) {
	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)

	summary := txexec.RunBatch(ctx, count, func(ctx context.Context, i int) (string, error) {
		result, err := s.createWithLease(ctx, owner, lease)
		if err != nil {
			return "", err
		}
		if _, _, err := s.registerWithLease(ctx, result.Beacon, lease); err != nil {
			return result.Beacon.Hex(), fmt.Errorf("created but not registered: %w", err)
		}
		return result.Beacon.Hex(), nil
	}, s.logger)

	s.logger.Info("batch beacon creation finished",
		zap.Int("total", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return &summary, nil
}

// UpdateItem is one beacon data update within a batch.
type UpdateItem struct {
	Beacon        common.Address
	Proof         []byte
	PublicSignals []byte
}

// UpdateOutcome is the per-item outcome of a batch update, in input order.
type UpdateOutcome struct {
	Index   int    `json:"index"`
	Beacon  string `json:"beacon"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchUpdate updates many beacons. Items are grouped by each beacon's
// designated wallet so sticky affinity is preserved; each group becomes one
// non-atomic multicall whose per-item outcomes are merged back into input
// order. A group's infrastructure failure marks only that group's items.
func (s *Service) BatchUpdate(ctx context.Context, items []UpdateItem) ([]UpdateOutcome, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	outcomes := make([]UpdateOutcome, len(items))
	for i, item := range items {
		outcomes[i] = UpdateOutcome{Index: i, Beacon: item.Beacon.Hex()}
	}

	// Group item indices by designated wallet; beacons without affinity
	// share the "" group and take any wallet.
	groups := make(map[string][]int)
	for i, item := range items {
		designated, found, err := s.pool.DesignatedWallet(ctx, item.Beacon.Hex())
		key := ""
		if err == nil && found {
			key = designated.Hex()
		}
		groups[key] = append(groups[key], i)
	}

	for _, indices := range groups {
		s.runUpdateGroup(ctx, items, indices, outcomes)
	}
	return outcomes, nil
}

// runUpdateGroup executes one wallet group as a single non-atomic multicall.
func (s *Service) runUpdateGroup(ctx context.Context, items []UpdateItem, indices []int, outcomes []UpdateOutcome) {
	hint := items[indices[0]].Beacon.Hex()
	lease, err := s.pool.Acquire(ctx, hint)
	if err != nil {
		for _, i := range indices {
			outcomes[i].Error = err.Error()
		}
		return
	}
	defer s.releaseLease(lease)

	calls := make([]txexec.MulticallItem, 0, len(indices))
	for _, i := range indices {
		callData, err := chain.BeaconABI.Pack("updateData", items[i].Proof, items[i].PublicSignals)
		if err != nil {
			outcomes[i].Error = fmt.Sprintf("pack updateData: %v", err)
			continue
		}
		calls = append(calls, txexec.MulticallItem{
			Target:       items[i].Beacon,
			CallData:     callData,
			ExpectEvent:  txexec.EventDataUpdated,
			EventEmitter: items[i].Beacon,
		})
	}
	if len(calls) == 0 {
		return
	}

	w := lease.Wallet
	results, _, err := s.batcher.Execute(ctx, w.Address, w.SignerRef, calls, false, s.renewFunc(lease))
	if err != nil {
		for _, i := range indices {
			if outcomes[i].Error == "" {
				outcomes[i].Error = err.Error()
			}
		}
		return
	}

	// Merge multicall results back to the original indices, skipping items
	// that failed packing and never entered the call list.
	pos := 0
	for _, i := range indices {
		if outcomes[i].Error != "" {
			continue
		}
		r := results[pos]
		pos++
		outcomes[i].Success = r.Success
		outcomes[i].Error = r.Error
	}
}

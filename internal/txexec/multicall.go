package txexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
)

// MulticallItem is one independently-addressed sub-call.
type MulticallItem struct {
	Target   common.Address
	CallData []byte
	// ExpectEvent, when non-empty, requires the named event in the shared
	// receipt for this item to count as succeeded.
	ExpectEvent EventKind
	// EventEmitter narrows event matching to one contract. Zero matches any.
	EventEmitter common.Address
}

// ItemResult is the outcome of one sub-call after demultiplexing. Results
// are always ordered exactly as the input items.
type ItemResult struct {
	Index      int    `json:"index"`
	Success    bool   `json:"success"`
	ReturnData []byte `json:"-"`
	Event      Event  `json:"-"`
	Error      string `json:"error,omitempty"`
}

// Batcher aggregates sub-calls into one Multicall3 transaction and
// demultiplexes the shared receipt back into per-item results.
type Batcher struct {
	executor  *Executor
	clients   *chain.ClientSet
	multicall common.Address
	logger    *zap.Logger
}

// NewBatcher creates a multicall batcher against the given Multicall3
// deployment.
func NewBatcher(executor *Executor, clients *chain.ClientSet, multicall common.Address, logger *zap.Logger) *Batcher {
	return &Batcher{executor: executor, clients: clients, multicall: multicall, logger: logger}
}

// call3 mirrors the Multicall3 Call3 tuple for ABI packing.
type call3 struct {
	Target       common.Address `abi:"target"`
	AllowFailure bool           `abi:"allowFailure"`
	CallData     []byte         `abi:"callData"`
}

// call3Result mirrors the Multicall3 Result tuple.
type call3Result struct {
	Success    bool   `abi:"success"`
	ReturnData []byte `abi:"returnData"`
}

// Execute submits the aggregated transaction from the given wallet. In
// atomic mode any sub-call failure reverts the whole transaction and every
// item reports the shared reason; in non-atomic mode sub-calls fail
// independently. Result order always equals input order.
func (b *Batcher) Execute(ctx context.Context, from common.Address, signerRef string, items []MulticallItem, atomic bool, renew func(ctx context.Context) error) ([]ItemResult, *types.Receipt, error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("empty multicall")
	}

	calls := make([]call3, len(items))
	for i, item := range items {
		calls[i] = call3{
			Target:       item.Target,
			AllowFailure: !atomic,
			CallData:     item.CallData,
		}
	}
	callData, err := chain.Multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, nil, fmt.Errorf("pack aggregate3: %w", err)
	}

	b.logger.Info("submitting multicall",
		zap.Int("items", len(items)),
		zap.Bool("atomic", atomic),
		zap.String("wallet", from.Hex()))

	receipt, err := b.executor.Execute(ctx, from, signerRef, Call{
		To:    b.multicall,
		Data:  callData,
		Renew: renew,
	})
	if err != nil {
		var revert *RevertError
		if errors.As(err, &revert) {
			// Shared all-or-nothing failure: every item carries the reason.
			// In non-atomic mode this means the aggregate call itself (not a
			// sub-call) reverted, which fails everything the same way.
			results := make([]ItemResult, len(items))
			for i := range items {
				results[i] = ItemResult{Index: i, Error: revert.Reason}
			}
			return results, nil, nil
		}
		return nil, nil, err
	}

	results := b.demux(ctx, items, callData, receipt)
	return results, receipt, nil
}

// demux splits the shared receipt into per-item results. Two sources are
// combined: the per-call (success, returnData) pairs, recovered by replaying
// the aggregate call at the receipt's block, and the expected event per
// item, consumed from the receipt's log list in call order. Events from the
// mined receipt are authoritative; the replay is best effort and only
// tightens failure reporting.
func (b *Batcher) demux(ctx context.Context, items []MulticallItem, callData []byte, receipt *types.Receipt) []ItemResult {
	results := make([]ItemResult, len(items))
	for i := range results {
		results[i] = ItemResult{Index: i, Success: true}
	}

	if pairs, err := b.replayResults(ctx, len(items), callData, receipt); err != nil {
		b.logger.Warn("multicall replay unavailable, relying on receipt logs",
			zap.String("tx", receipt.TxHash.Hex()), zap.Error(err))
	} else {
		for i, pair := range pairs {
			results[i].ReturnData = pair.ReturnData
			if !pair.Success {
				results[i].Success = false
				results[i].Error = chain.DecodeRevert(pair.ReturnData)
			}
		}
	}

	// Attribution is by consumption order: each item takes the next
	// unconsumed log matching its event and emitter. When two items expect
	// the same event from the same emitter and one of them emitted nothing,
	// the other item's log can be credited to the wrong one.
	cursor := NewLogCursor(receipt.Logs)
	for i, item := range items {
		if item.ExpectEvent == "" || !results[i].Success {
			continue
		}
		event, err := cursor.Next(item.ExpectEvent, item.EventEmitter)
		if err != nil {
			results[i].Success = false
			results[i].Error = err.Error()
			continue
		}
		results[i].Event = event
	}
	return results
}

// replayResults re-executes the aggregate call as an eth_call at the
// receipt's block to recover the Result[] return value, which is not part
// of the receipt itself.
func (b *Batcher) replayResults(ctx context.Context, n int, callData []byte, receipt *types.Receipt) ([]call3Result, error) {
	ep := b.clients.NextForRead()
	raw, err := ep.Client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.multicall,
		Data: callData,
	}, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	var out []call3Result
	if err := chain.Multicall3ABI.UnpackIntoInterface(&out, "aggregate3", raw); err != nil {
		return nil, fmt.Errorf("unpack aggregate3 result: %w", err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("aggregate3 returned %d results, want %d", len(out), n)
	}
	return out, nil
}

package txexec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
)

var multicallAddr = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

func testBatcher(t *testing.T, node *fakeNode) (*Batcher, common.Address) {
	t.Helper()
	keyring, addr := testKeyring(t)
	clients := chain.NewClientSet(
		[]chain.Endpoint{{URL: "fake", Client: node}}, 8453, zap.NewNop())
	exec, err := NewExecutor(clients, keyring, Config{
		SubmitTimeout:       100 * time.Millisecond,
		ReceiptTimeouts:     []time.Duration{200 * time.Millisecond},
		ReceiptPause:        10 * time.Millisecond,
		ReceiptPollInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return NewBatcher(exec, clients, multicallAddr, zap.NewNop()), addr
}

// packAggregate3Results ABI-encodes the Result[] return value the replay
// call hands back.
func packAggregate3Results(t *testing.T, results []call3Result) []byte {
	t.Helper()
	raw, err := chain.Multicall3ABI.Methods["aggregate3"].Outputs.Pack(results)
	require.NoError(t, err)
	return raw
}

func TestMulticallNonAtomicPartialFailure(t *testing.T) {
	node := newFakeNode()
	revertData := []byte{0xd2, 0xaa, 0x46, 0x1f} // PerpNotFound selector
	node.callResult = packAggregate3Results(t, []call3Result{
		{Success: true, ReturnData: []byte{0x01}},
		{Success: false, ReturnData: revertData},
		{Success: true, ReturnData: []byte{0x02}},
	})
	batcher, from := testBatcher(t, node)

	items := []MulticallItem{
		{Target: common.HexToAddress("0xa1")},
		{Target: common.HexToAddress("0xa2")},
		{Target: common.HexToAddress("0xa3")},
	}
	results, receipt, err := batcher.Execute(context.Background(), from, from.Hex(), items, false, nil)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Len(t, results, len(items))

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "perp does not exist", results[1].Error)
	assert.True(t, results[2].Success)

	// Input order preserved.
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
}

func TestMulticallEventDemux(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	first := common.HexToAddress("0xaaa1")
	second := common.HexToAddress("0xaaa2")

	node := newFakeNode()
	node.logs = []*types.Log{
		beaconCreatedLog(t, factory, first),
		beaconCreatedLog(t, factory, second),
	}
	node.callResult = packAggregate3Results(t, []call3Result{
		{Success: true}, {Success: true}, {Success: true},
	})
	batcher, from := testBatcher(t, node)

	items := []MulticallItem{
		{Target: factory, ExpectEvent: EventBeaconCreated, EventEmitter: factory},
		{Target: factory, ExpectEvent: EventBeaconCreated, EventEmitter: factory},
		// Third item expects an event that never fired: semantic failure.
		{Target: factory, ExpectEvent: EventBeaconCreated, EventEmitter: factory},
	}
	results, _, err := batcher.Execute(context.Background(), from, from.Hex(), items, false, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Success)
	assert.Equal(t, first, results[0].Event.(BeaconCreated).Beacon)
	require.True(t, results[1].Success)
	assert.Equal(t, second, results[1].Event.(BeaconCreated).Beacon)

	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "expected event not found")
}

func TestMulticallAtomicRevertFailsAllItems(t *testing.T) {
	node := newFakeNode()
	node.receiptStatus = types.ReceiptStatusFailed
	node.callErr = errors.New("execution reverted: 0x2c328f64") // PerpAlreadyExists
	batcher, from := testBatcher(t, node)

	items := []MulticallItem{
		{Target: common.HexToAddress("0xa1")},
		{Target: common.HexToAddress("0xa2")},
	}
	results, receipt, err := batcher.Execute(context.Background(), from, from.Hex(), items, true, nil)
	require.NoError(t, err)
	assert.Nil(t, receipt)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, "perp already exists", r.Error)
	}
}

func TestMulticallEmptyInput(t *testing.T) {
	node := newFakeNode()
	batcher, from := testBatcher(t, node)
	_, _, err := batcher.Execute(context.Background(), from, from.Hex(), nil, false, nil)
	assert.Error(t, err)
}

func TestMulticallReplayUnavailableFallsBackToLogs(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	node := newFakeNode()
	node.logs = []*types.Log{beaconCreatedLog(t, factory, common.HexToAddress("0xaaa1"))}
	node.callErr = errors.New("dial tcp: connection refused")
	batcher, from := testBatcher(t, node)

	items := []MulticallItem{
		{Target: factory, ExpectEvent: EventBeaconCreated, EventEmitter: factory},
	}
	results, _, err := batcher.Execute(context.Background(), from, from.Hex(), items, false, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

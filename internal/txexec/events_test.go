package txexec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
)

func beaconCreatedLog(t *testing.T, emitter, beacon common.Address) *types.Log {
	t.Helper()
	ev := chain.BeaconFactoryABI.Events["BeaconCreated"]
	data, err := ev.Inputs.Pack(beacon)
	require.NoError(t, err)
	return &types.Log{
		Address: emitter,
		Topics:  []common.Hash{ev.ID},
		Data:    data,
	}
}

func dataUpdatedLog(t *testing.T, emitter common.Address, value *big.Int) *types.Log {
	t.Helper()
	ev := chain.BeaconABI.Events["DataUpdated"]
	data, err := ev.Inputs.Pack(value)
	require.NoError(t, err)
	return &types.Log{
		Address: emitter,
		Topics:  []common.Hash{ev.ID},
		Data:    data,
	}
}

func perpCreatedLog(t *testing.T, emitter common.Address, perpID [32]byte, beacon common.Address) *types.Log {
	t.Helper()
	ev := chain.PerpManagerABI.Events["PerpCreated"]
	data, err := ev.Inputs.Pack(perpID, beacon, big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	return &types.Log{
		Address: emitter,
		Topics:  []common.Hash{ev.ID},
		Data:    data,
	}
}

func TestDecodeEventBeaconCreated(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	beacon := common.HexToAddress("0x2222")

	event, err := DecodeEvent(EventBeaconCreated, factory,
		[]*types.Log{beaconCreatedLog(t, factory, beacon)})
	require.NoError(t, err)

	created, ok := event.(BeaconCreated)
	require.True(t, ok)
	assert.Equal(t, beacon, created.Beacon)
}

func TestDecodeEventDataUpdated(t *testing.T) {
	beacon := common.HexToAddress("0x2222")

	event, err := DecodeEvent(EventDataUpdated, beacon,
		[]*types.Log{dataUpdatedLog(t, beacon, big.NewInt(42))})
	require.NoError(t, err)

	updated, ok := event.(DataUpdated)
	require.True(t, ok)
	assert.Equal(t, int64(42), updated.Data.Int64())
}

func TestDecodeEventPerpCreated(t *testing.T) {
	manager := common.HexToAddress("0x3333")
	beacon := common.HexToAddress("0x2222")
	var perpID [32]byte
	perpID[31] = 7

	event, err := DecodeEvent(EventPerpCreated, manager,
		[]*types.Log{perpCreatedLog(t, manager, perpID, beacon)})
	require.NoError(t, err)

	created, ok := event.(PerpCreated)
	require.True(t, ok)
	assert.Equal(t, perpID, created.PerpID)
	assert.Equal(t, beacon, created.Beacon)
	assert.Equal(t, int64(1), created.SqrtPriceX96.Int64())
	assert.Equal(t, int64(2), created.IndexPriceX96.Int64())
}

func TestDecodeEventNotFound(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	beacon := common.HexToAddress("0x2222")

	// Right event, wrong emitter.
	_, err := DecodeEvent(EventBeaconCreated, common.HexToAddress("0x9999"),
		[]*types.Log{beaconCreatedLog(t, factory, beacon)})
	assert.ErrorIs(t, err, ErrEventNotFound)

	// Wrong event entirely.
	_, err = DecodeEvent(EventDataUpdated, factory,
		[]*types.Log{beaconCreatedLog(t, factory, beacon)})
	assert.ErrorIs(t, err, ErrEventNotFound)

	// Empty receipt.
	_, err = DecodeEvent(EventBeaconCreated, factory, nil)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestDecodeEventZeroEmitterMatchesAny(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	beacon := common.HexToAddress("0x2222")

	event, err := DecodeEvent(EventBeaconCreated, common.Address{},
		[]*types.Log{beaconCreatedLog(t, factory, beacon)})
	require.NoError(t, err)
	assert.Equal(t, beacon, event.(BeaconCreated).Beacon)
}

func TestLogCursorConsumesInOrder(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	first := common.HexToAddress("0xaaa1")
	second := common.HexToAddress("0xaaa2")

	logs := []*types.Log{
		beaconCreatedLog(t, factory, first),
		beaconCreatedLog(t, factory, second),
	}
	cursor := NewLogCursor(logs)

	e1, err := cursor.Next(EventBeaconCreated, factory)
	require.NoError(t, err)
	assert.Equal(t, first, e1.(BeaconCreated).Beacon)

	e2, err := cursor.Next(EventBeaconCreated, factory)
	require.NoError(t, err)
	assert.Equal(t, second, e2.(BeaconCreated).Beacon)

	_, err = cursor.Next(EventBeaconCreated, factory)
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestLogCursorSkipsUnrelatedLogs(t *testing.T) {
	factory := common.HexToAddress("0x1111")
	beaconAddr := common.HexToAddress("0x2222")

	logs := []*types.Log{
		dataUpdatedLog(t, beaconAddr, big.NewInt(5)),
		beaconCreatedLog(t, factory, beaconAddr),
	}
	cursor := NewLogCursor(logs)

	event, err := cursor.Next(EventBeaconCreated, factory)
	require.NoError(t, err)
	assert.Equal(t, beaconAddr, event.(BeaconCreated).Beacon)
}

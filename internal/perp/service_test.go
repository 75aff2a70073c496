package perp

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
	"github.com/R3E-Network/beacon-orchestrator/pkg/testutil"
)

var (
	managerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdcAddr    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	beaconAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func testService(t *testing.T, node *testutil.MockNode) (*Service, common.Address) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyring, err := txexec.NewLocalKeyring([]string{hex.EncodeToString(crypto.FromECDSA(key))})
	require.NoError(t, err)
	walletAddr := crypto.PubkeyToAddress(key.PublicKey)

	clients := chain.NewClientSet([]chain.Endpoint{{URL: "mock", Client: node}}, 8453, zap.NewNop())
	exec, err := txexec.NewExecutor(clients, keyring, txexec.Config{
		SubmitTimeout:       100 * time.Millisecond,
		ReceiptTimeouts:     []time.Duration{200 * time.Millisecond},
		ReceiptPause:        10 * time.Millisecond,
		ReceiptPollInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	pool, err := wallet.NewPool(testutil.NewMockWalletRegistry(), testutil.NewMockLockStore(), wallet.PoolConfig{
		InstanceID:     "test",
		LeaseTTL:       time.Second,
		AcquireRetries: 3,
		AcquireDelay:   10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pool.Add(context.Background(), walletAddr, walletAddr.Hex()))

	svc, err := NewService(pool, exec, clients, DefaultConfig(), Addresses{
		Manager: managerAddr,
		USDC:    usdcAddr,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc, walletAddr
}

// perpsView mirrors the perps mapping return tuple for test packing.
type perpsView struct {
	Beacon               common.Address `abi:"beacon"`
	Fees                 common.Address `abi:"fees"`
	MarginRatios         common.Address `abi:"marginRatios"`
	LockupPeriod         common.Address `abi:"lockupPeriod"`
	SqrtPriceImpactLimit common.Address `abi:"sqrtPriceImpactLimit"`
}

func packPerpsResult(t *testing.T, beacon common.Address) []byte {
	t.Helper()
	out, err := chain.PerpManagerABI.Methods["perps"].Outputs.Pack(perpsView{Beacon: beacon})
	require.NoError(t, err)
	return out
}

func packUint256(t *testing.T, v *big.Int) []byte {
	t.Helper()
	out, err := chain.ERC20ABI.Methods["balanceOf"].Outputs.Pack(v)
	require.NoError(t, err)
	return out
}

func perpCreatedLog(t *testing.T, perpID common.Hash, beacon common.Address) *types.Log {
	t.Helper()
	ev := chain.PerpManagerABI.Events["PerpCreated"]
	data, err := ev.Inputs.Pack([32]byte(perpID), beacon, big.NewInt(7), big.NewInt(9))
	require.NoError(t, err)
	return &types.Log{Address: managerAddr, Topics: []common.Hash{ev.ID}, Data: data}
}

func positionOpenedLog(t *testing.T, perpID common.Hash, posID int64) *types.Log {
	t.Helper()
	ev := chain.PerpManagerABI.Events["PositionOpened"]
	data, err := ev.Inputs.Pack([32]byte(perpID), big.NewInt(1), big.NewInt(2), big.NewInt(3),
		big.NewInt(posID), true, big.NewInt(0))
	require.NoError(t, err)
	return &types.Log{Address: managerAddr, Topics: []common.Hash{ev.ID}, Data: data}
}

// readHandler routes eth_call by target address and method selector.
func readHandler(responses map[string][]byte) func(ethereum.CallMsg) ([]byte, error) {
	return func(msg ethereum.CallMsg) ([]byte, error) {
		if msg.To == nil || len(msg.Data) < 4 {
			return nil, fmt.Errorf("malformed call")
		}
		key := msg.To.Hex() + ":" + hex.EncodeToString(msg.Data[:4])
		if resp, ok := responses[key]; ok {
			return resp, nil
		}
		return nil, fmt.Errorf("no handler for %s", key)
	}
}

func callKey(to common.Address, method abi.Method) string {
	return to.Hex() + ":" + hex.EncodeToString(method.ID)
}

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigRejectsMisalignedTicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultTickLower = 24391
	assert.ErrorContains(t, cfg.Validate(), "not divisible")

	cfg = DefaultConfig()
	cfg.DefaultTickLower = cfg.DefaultTickUpper
	assert.ErrorContains(t, cfg.Validate(), "must be below")
}

func TestValidateMargin(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		margin  *big.Int
		wantErr string
	}{
		{"zero", big.NewInt(0), "must be positive"},
		{"below floor", big.NewInt(5_000_000), "below minimum"},
		{"above per-perp max", big.NewInt(2_000_000_000), "exceeds per-perp maximum"},
		{"floor exactly", big.NewInt(10_000_000), ""},
		{"mid range", big.NewInt(500_000_000), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cfg.ValidateMargin(tt.margin)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestExpectedLeverageDecaysWithMargin(t *testing.T) {
	cfg := DefaultConfig()

	atFloor, err := cfg.ExpectedLeverage(big.NewInt(10_000_000))
	require.NoError(t, err)
	assert.InDelta(t, 9.97, atFloor, 0.01)

	at1000, err := cfg.ExpectedLeverage(big.NewInt(1_000_000_000))
	require.NoError(t, err)
	assert.Less(t, at1000, atFloor)
	assert.InDelta(t, 1.0, at1000, 0.01)
}

func TestLiquidityForMargin(t *testing.T) {
	cfg := DefaultConfig()
	liquidity := cfg.LiquidityForMargin(big.NewInt(10_000_000))
	assert.Equal(t, big.NewInt(5_000_000_000_000), liquidity)
}

func TestDeployVerifiesPerpCreated(t *testing.T) {
	perpID := common.HexToHash("0xabcdef")
	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(beaconAddr, chain.BeaconABI.Methods["getData"]): bytes.Repeat([]byte{0}, 64),
	})
	node.Logs = []*types.Log{perpCreatedLog(t, perpID, beaconAddr)}

	svc, _ := testService(t, node)
	result, err := svc.Deploy(context.Background(), beaconAddr)
	require.NoError(t, err)
	assert.Equal(t, perpID, result.PerpID)
	assert.Equal(t, beaconAddr, result.Beacon)
	assert.Equal(t, big.NewInt(7), result.SqrtPriceX96)
	assert.NotEqual(t, common.Hash{}, result.TxHash)
}

func TestDeployRejectsNonBeacon(t *testing.T) {
	node := testutil.NewMockNode()
	node.CallHandler = func(ethereum.CallMsg) ([]byte, error) {
		return nil, fmt.Errorf("execution reverted")
	}

	svc, _ := testService(t, node)
	_, err := svc.Deploy(context.Background(), beaconAddr)
	require.ErrorContains(t, err, "does not answer getData")
	assert.Equal(t, 0, node.SentCount())
}

func TestDeployMissingEventFails(t *testing.T) {
	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(beaconAddr, chain.BeaconABI.Methods["getData"]): bytes.Repeat([]byte{0}, 64),
	})

	svc, _ := testService(t, node)
	_, err := svc.Deploy(context.Background(), beaconAddr)
	require.ErrorIs(t, err, txexec.ErrEventNotFound)
}

func TestDepositLiquidityApprovesWhenAllowanceShort(t *testing.T) {
	perpID := common.HexToHash("0x01")
	margin := big.NewInt(100_000_000) // 100 USDC

	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(managerAddr, chain.PerpManagerABI.Methods["perps"]): packPerpsResult(t, beaconAddr),
		callKey(usdcAddr, chain.ERC20ABI.Methods["balanceOf"]):      packUint256(t, big.NewInt(500_000_000)),
		callKey(usdcAddr, chain.ERC20ABI.Methods["allowance"]):      packUint256(t, big.NewInt(0)),
	})
	node.Logs = []*types.Log{positionOpenedLog(t, perpID, 71)}

	svc, _ := testService(t, node)
	result, err := svc.DepositLiquidity(context.Background(), perpID, margin)
	require.NoError(t, err)

	// Approval plus the maker position open.
	assert.Equal(t, 2, node.SentCount())
	assert.NotEqual(t, common.Hash{}, result.ApproveTxHash)
	assert.Equal(t, big.NewInt(71), result.PosID)
	assert.Equal(t, DefaultConfig().LiquidityForMargin(margin), result.Liquidity)
}

func TestDepositLiquiditySkipsApprovalWhenCovered(t *testing.T) {
	perpID := common.HexToHash("0x02")
	margin := big.NewInt(50_000_000)

	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(managerAddr, chain.PerpManagerABI.Methods["perps"]): packPerpsResult(t, beaconAddr),
		callKey(usdcAddr, chain.ERC20ABI.Methods["balanceOf"]):      packUint256(t, big.NewInt(500_000_000)),
		callKey(usdcAddr, chain.ERC20ABI.Methods["allowance"]):      packUint256(t, big.NewInt(1_000_000_000)),
	})
	node.Logs = []*types.Log{positionOpenedLog(t, perpID, 5)}

	svc, _ := testService(t, node)
	result, err := svc.DepositLiquidity(context.Background(), perpID, margin)
	require.NoError(t, err)

	assert.Equal(t, 1, node.SentCount())
	assert.Equal(t, common.Hash{}, result.ApproveTxHash)
}

func TestDepositLiquidityUnknownPerp(t *testing.T) {
	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(managerAddr, chain.PerpManagerABI.Methods["perps"]): packPerpsResult(t, common.Address{}),
	})

	svc, _ := testService(t, node)
	_, err := svc.DepositLiquidity(context.Background(), common.HexToHash("0x03"), big.NewInt(10_000_000))
	require.ErrorContains(t, err, "does not exist")
	assert.Equal(t, 0, node.SentCount())
}

func TestDepositLiquidityInsufficientBalance(t *testing.T) {
	node := testutil.NewMockNode()
	node.CallHandler = readHandler(map[string][]byte{
		callKey(managerAddr, chain.PerpManagerABI.Methods["perps"]): packPerpsResult(t, beaconAddr),
		callKey(usdcAddr, chain.ERC20ABI.Methods["balanceOf"]):      packUint256(t, big.NewInt(1_000_000)),
	})

	svc, _ := testService(t, node)
	_, err := svc.DepositLiquidity(context.Background(), common.HexToHash("0x04"), big.NewInt(10_000_000))
	require.ErrorContains(t, err, "insufficient USDC balance")
	assert.Equal(t, 0, node.SentCount())
}

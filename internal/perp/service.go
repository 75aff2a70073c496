package perp

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

// maxUint128 disables the slippage guards on openMakerPos.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Addresses holds the perp-related contract deployments.
type Addresses struct {
	Manager common.Address
	USDC    common.Address
}

// Service deploys perps and provisions maker liquidity through the wallet
// pool and the transaction executor.
type Service struct {
	pool     *wallet.Pool
	executor *txexec.Executor
	clients  *chain.ClientSet
	cfg      Config
	addrs    Addresses
	logger   *zap.Logger
}

// NewService creates the perp service.
func NewService(pool *wallet.Pool, executor *txexec.Executor, clients *chain.ClientSet, cfg Config, addrs Addresses, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		pool:     pool,
		executor: executor,
		clients:  clients,
		cfg:      cfg,
		addrs:    addrs,
		logger:   logger,
	}, nil
}

// createPerpParams mirrors the perp manager's CreatePerpParams tuple.
type createPerpParams struct {
	Beacon                 common.Address `abi:"beacon"`
	TradingFee             *big.Int       `abi:"tradingFee"`
	MinMargin              *big.Int       `abi:"minMargin"`
	MaxMargin              *big.Int       `abi:"maxMargin"`
	MinOpeningLeverageX96  *big.Int       `abi:"minOpeningLeverageX96"`
	MaxOpeningLeverageX96  *big.Int       `abi:"maxOpeningLeverageX96"`
	LiquidationLeverageX96 *big.Int       `abi:"liquidationLeverageX96"`
	LiquidationFeeX96      *big.Int       `abi:"liquidationFeeX96"`
	LiquidationFeeSplitX96 *big.Int       `abi:"liquidationFeeSplitX96"`
	FundingInterval        *big.Int       `abi:"fundingInterval"`
	TickSpacing            *big.Int       `abi:"tickSpacing"`
	StartingSqrtPriceX96   *big.Int       `abi:"startingSqrtPriceX96"`
}

// openMakerPosParams mirrors the perp manager's OpenMakerPositionParams tuple.
type openMakerPosParams struct {
	Holder    common.Address `abi:"holder"`
	Margin    *big.Int       `abi:"margin"`
	Liquidity *big.Int       `abi:"liquidity"`
	TickLower *big.Int       `abi:"tickLower"`
	TickUpper *big.Int       `abi:"tickUpper"`
	MaxAmt0In *big.Int       `abi:"maxAmt0In"`
	MaxAmt1In *big.Int       `abi:"maxAmt1In"`
}

// DeployResult reports a deployed perp.
type DeployResult struct {
	PerpID       common.Hash    `json:"perp_id"`
	Beacon       common.Address `json:"beacon"`
	SqrtPriceX96 *big.Int       `json:"sqrt_price_x96"`
	TxHash       common.Hash    `json:"tx_hash"`
}

func (s *Service) renewFunc(lease *wallet.Lease) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return s.pool.Renew(ctx, lease)
	}
}

// Deploy creates a perp pool for the beacon using the configured pool
// parameters and verifies the PerpCreated event. The beacon must respond
// to getData, which weeds out addresses that are not beacon contracts
// before gas is spent.
func (s *Service) Deploy(ctx context.Context, beacon common.Address) (*DeployResult, error) {
	if err := s.probeBeacon(ctx, beacon); err != nil {
		return nil, err
	}

	params := createPerpParams{
		Beacon:                 beacon,
		TradingFee:             big.NewInt(int64(s.cfg.TradingFee)),
		MinMargin:              s.cfg.MinMargin,
		MaxMargin:              s.cfg.MaxMargin,
		MinOpeningLeverageX96:  s.cfg.MinOpeningLeverageX96,
		MaxOpeningLeverageX96:  s.cfg.MaxOpeningLeverageX96,
		LiquidationLeverageX96: s.cfg.LiquidationLeverageX96,
		LiquidationFeeX96:      s.cfg.LiquidationFeeX96,
		LiquidationFeeSplitX96: s.cfg.LiquidationFeeSplitX96,
		FundingInterval:        big.NewInt(s.cfg.FundingInterval),
		TickSpacing:            big.NewInt(int64(s.cfg.TickSpacing)),
		StartingSqrtPriceX96:   s.cfg.StartingSqrtPriceX96,
	}
	callData, err := chain.PerpManagerABI.Pack("createPerp", params)
	if err != nil {
		return nil, fmt.Errorf("pack createPerp: %w", err)
	}

	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)

	w := lease.Wallet
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.Manager,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventPerpCreated, s.addrs.Manager, receipt.Logs)
	if err != nil {
		return nil, err
	}
	created := event.(txexec.PerpCreated)

	s.logger.Info("perp deployed",
		zap.String("perp_id", common.Hash(created.PerpID).Hex()),
		zap.String("beacon", created.Beacon.Hex()),
		zap.String("tx", receipt.TxHash.Hex()))
	return &DeployResult{
		PerpID:       common.Hash(created.PerpID),
		Beacon:       created.Beacon,
		SqrtPriceX96: created.SqrtPriceX96,
		TxHash:       receipt.TxHash,
	}, nil
}

// Exists reports whether the perp manager knows the perp id.
func (s *Service) Exists(ctx context.Context, perpID common.Hash) (bool, error) {
	callData, err := chain.PerpManagerABI.Pack("perps", [32]byte(perpID))
	if err != nil {
		return false, fmt.Errorf("pack perps: %w", err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.addrs.Manager,
		Data: callData,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("query perp: %w", err)
	}
	out, err := chain.PerpManagerABI.Unpack("perps", raw)
	if err != nil {
		return false, fmt.Errorf("unpack perps: %w", err)
	}
	perp := out[0].(struct {
		Beacon               common.Address `json:"beacon"`
		Fees                 common.Address `json:"fees"`
		MarginRatios         common.Address `json:"marginRatios"`
		LockupPeriod         common.Address `json:"lockupPeriod"`
		SqrtPriceImpactLimit common.Address `json:"sqrtPriceImpactLimit"`
	})
	return perp.Beacon != (common.Address{}), nil
}

// DepositResult reports a maker liquidity deposit.
type DepositResult struct {
	PerpID        common.Hash `json:"perp_id"`
	PosID         *big.Int    `json:"pos_id"`
	MarginUSDC    *big.Int    `json:"margin_usdc"`
	Liquidity     *big.Int    `json:"liquidity"`
	ApproveTxHash common.Hash `json:"approve_tx_hash,omitempty"`
	TxHash        common.Hash `json:"tx_hash"`
}

// DepositLiquidity opens a maker position on the perp with the given
// 6-decimal USDC margin. Liquidity is derived from the margin by the
// configured scaling factor. USDC spending is approved only when the
// manager's current allowance does not cover the margin.
func (s *Service) DepositLiquidity(ctx context.Context, perpID common.Hash, marginUSDC *big.Int) (*DepositResult, error) {
	if err := s.cfg.ValidateMargin(marginUSDC); err != nil {
		return nil, err
	}
	liquidity := s.cfg.LiquidityForMargin(marginUSDC)

	exists, err := s.Exists(ctx, perpID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("perp %s does not exist", perpID.Hex())
	}

	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)
	w := lease.Wallet

	balance, err := s.erc20Amount(ctx, "balanceOf", w.Address)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(marginUSDC) < 0 {
		return nil, fmt.Errorf("insufficient USDC balance: have %s, need %s",
			usdcString(balance), usdcString(marginUSDC))
	}

	approveTx, err := s.ensureAllowance(ctx, lease, marginUSDC)
	if err != nil {
		return nil, err
	}

	params := openMakerPosParams{
		Holder:    w.Address,
		Margin:    marginUSDC,
		Liquidity: liquidity,
		TickLower: big.NewInt(int64(s.cfg.DefaultTickLower)),
		TickUpper: big.NewInt(int64(s.cfg.DefaultTickUpper)),
		MaxAmt0In: maxUint128,
		MaxAmt1In: maxUint128,
	}
	callData, err := chain.PerpManagerABI.Pack("openMakerPos", [32]byte(perpID), params)
	if err != nil {
		return nil, fmt.Errorf("pack openMakerPos: %w", err)
	}

	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.Manager,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return nil, err
	}

	event, err := txexec.DecodeEvent(txexec.EventPositionOpened, s.addrs.Manager, receipt.Logs)
	if err != nil {
		return nil, err
	}
	opened := event.(txexec.PositionOpened)

	s.logger.Info("maker liquidity deposited",
		zap.String("perp_id", perpID.Hex()),
		zap.String("pos_id", opened.PosID.String()),
		zap.String("margin_usdc", usdcString(marginUSDC)),
		zap.String("tx", receipt.TxHash.Hex()))
	return &DepositResult{
		PerpID:        perpID,
		PosID:         opened.PosID,
		MarginUSDC:    marginUSDC,
		Liquidity:     liquidity,
		ApproveTxHash: approveTx,
		TxHash:        receipt.TxHash,
	}, nil
}

// ensureAllowance approves USDC spending by the perp manager when the
// current allowance is below the required margin. Returns the approval
// transaction hash, or a zero hash when no approval was needed.
func (s *Service) ensureAllowance(ctx context.Context, lease *wallet.Lease, required *big.Int) (common.Hash, error) {
	w := lease.Wallet
	allowance, err := s.erc20Amount(ctx, "allowance", w.Address, s.addrs.Manager)
	if err != nil {
		return common.Hash{}, err
	}
	if allowance.Cmp(required) >= 0 {
		s.logger.Debug("sufficient USDC allowance, skipping approval",
			zap.String("allowance", allowance.String()),
			zap.String("required", required.String()))
		return common.Hash{}, nil
	}

	callData, err := chain.ERC20ABI.Pack("approve", s.addrs.Manager, required)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack approve: %w", err)
	}
	receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
		To:    s.addrs.USDC,
		Data:  callData,
		Renew: s.renewFunc(lease),
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("approve USDC: %w", err)
	}
	s.logger.Info("USDC spending approved",
		zap.String("amount", usdcString(required)),
		zap.String("tx", receipt.TxHash.Hex()))
	return receipt.TxHash, nil
}

// erc20Amount calls a uint256-returning view on the USDC token.
func (s *Service) erc20Amount(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	callData, err := chain.ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.addrs.USDC,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", method, err)
	}
	out, err := chain.ERC20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out[0].(*big.Int), nil
}

// probeBeacon calls getData on the candidate beacon.
func (s *Service) probeBeacon(ctx context.Context, beacon common.Address) error {
	callData, err := chain.BeaconABI.Pack("getData")
	if err != nil {
		return fmt.Errorf("pack getData: %w", err)
	}
	if _, err := s.clients.NextForRead().Client.CallContract(ctx, ethereum.CallMsg{
		To:   &beacon,
		Data: callData,
	}, nil); err != nil {
		return fmt.Errorf("beacon %s does not answer getData: %w", beacon.Hex(), err)
	}
	return nil
}

func (s *Service) releaseLease(lease *wallet.Lease) {
	if err := s.pool.Release(context.Background(), lease); err != nil {
		s.logger.Error("failed to release wallet lease",
			zap.String("wallet", lease.Wallet.Address.Hex()), zap.Error(err))
	}
}

// Package funding tops up guest wallets with ETH and USDC from a pooled
// wallet, so freshly created guests can pay gas and trade immediately.
package funding

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

// Config bounds single-request transfer amounts.
type Config struct {
	// USDCTransferLimit is the per-request USDC cap, 6-decimal units.
	USDCTransferLimit *big.Int
	// ETHTransferLimit is the per-request ETH cap in wei.
	ETHTransferLimit *big.Int
}

// DefaultConfig caps requests at 1000 USDC and 0.01 ETH.
func DefaultConfig() Config {
	return Config{
		USDCTransferLimit: big.NewInt(1_000_000_000),
		ETHTransferLimit:  big.NewInt(10_000_000_000_000_000),
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.USDCTransferLimit == nil || c.ETHTransferLimit == nil {
		return fmt.Errorf("transfer limits required")
	}
	if c.USDCTransferLimit.Sign() <= 0 || c.ETHTransferLimit.Sign() <= 0 {
		return fmt.Errorf("transfer limits must be positive")
	}
	return nil
}

// Service transfers ETH and USDC from pooled wallets to guest addresses.
type Service struct {
	pool     *wallet.Pool
	executor *txexec.Executor
	clients  *chain.ClientSet
	cfg      Config
	usdc     common.Address
	logger   *zap.Logger
}

// NewService creates a funding service.
func NewService(pool *wallet.Pool, executor *txexec.Executor, clients *chain.ClientSet, cfg Config, usdc common.Address, logger *zap.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("funding config: %w", err)
	}
	return &Service{
		pool:     pool,
		executor: executor,
		clients:  clients,
		cfg:      cfg,
		usdc:     usdc,
		logger:   logger,
	}, nil
}

// FundResult reports a completed guest funding.
type FundResult struct {
	Guest      common.Address `json:"guest"`
	USDCAmount *big.Int       `json:"usdc_amount"`
	ETHAmount  *big.Int       `json:"eth_amount"`
	ETHTxHash  common.Hash    `json:"eth_tx_hash"`
	USDCTxHash common.Hash    `json:"usdc_tx_hash"`
}

// FundGuest transfers usdcAmount and ethAmount from a pooled wallet to the
// guest address. Amounts are validated against the per-request limits and
// the funding wallet's balances before anything is submitted; a zero amount
// skips that leg. The ETH transfer goes first, matching the order guests
// need the assets in: gas before tokens.
func (s *Service) FundGuest(ctx context.Context, guest common.Address, usdcAmount, ethAmount *big.Int) (*FundResult, error) {
	if usdcAmount == nil {
		usdcAmount = big.NewInt(0)
	}
	if ethAmount == nil {
		ethAmount = big.NewInt(0)
	}
	if usdcAmount.Sign() < 0 || ethAmount.Sign() < 0 {
		return nil, fmt.Errorf("transfer amounts must not be negative")
	}
	if usdcAmount.Sign() == 0 && ethAmount.Sign() == 0 {
		return nil, fmt.Errorf("nothing to transfer")
	}
	if usdcAmount.Cmp(s.cfg.USDCTransferLimit) > 0 {
		return nil, fmt.Errorf("USDC amount exceeds limit: requested %s, limit %s",
			usdcString(usdcAmount), usdcString(s.cfg.USDCTransferLimit))
	}
	if ethAmount.Cmp(s.cfg.ETHTransferLimit) > 0 {
		return nil, fmt.Errorf("ETH amount exceeds limit: requested %s, limit %s",
			ethString(ethAmount), ethString(s.cfg.ETHTransferLimit))
	}

	lease, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(lease)
	w := lease.Wallet

	if err := s.checkBalances(ctx, w.Address, usdcAmount, ethAmount); err != nil {
		return nil, err
	}

	result := &FundResult{Guest: guest, USDCAmount: usdcAmount, ETHAmount: ethAmount}

	if ethAmount.Sign() > 0 {
		receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
			To:    guest,
			Value: ethAmount,
			Renew: s.renewFunc(lease),
		})
		if err != nil {
			return nil, fmt.Errorf("transfer ETH: %w", err)
		}
		result.ETHTxHash = receipt.TxHash
		s.logger.Info("ETH transferred to guest",
			zap.String("guest", guest.Hex()),
			zap.String("amount", ethString(ethAmount)),
			zap.String("tx", receipt.TxHash.Hex()))
	}

	if usdcAmount.Sign() > 0 {
		callData, err := chain.ERC20ABI.Pack("transfer", guest, usdcAmount)
		if err != nil {
			return nil, fmt.Errorf("pack transfer: %w", err)
		}
		receipt, err := s.executor.Execute(ctx, w.Address, w.SignerRef, txexec.Call{
			To:    s.usdc,
			Data:  callData,
			Renew: s.renewFunc(lease),
		})
		if err != nil {
			return nil, fmt.Errorf("transfer USDC: %w", err)
		}
		result.USDCTxHash = receipt.TxHash
		s.logger.Info("USDC transferred to guest",
			zap.String("guest", guest.Hex()),
			zap.String("amount", usdcString(usdcAmount)),
			zap.String("tx", receipt.TxHash.Hex()))
	}

	return result, nil
}

// checkBalances verifies the funding wallet covers both legs before either
// is submitted.
func (s *Service) checkBalances(ctx context.Context, from common.Address, usdcAmount, ethAmount *big.Int) error {
	if ethAmount.Sign() > 0 {
		var balance *big.Int
		err := s.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
			var balErr error
			balance, balErr = ep.Client.BalanceAt(ctx, from, nil)
			return balErr
		})
		if err != nil {
			return fmt.Errorf("query ETH balance: %w", err)
		}
		if balance.Cmp(ethAmount) < 0 {
			return fmt.Errorf("insufficient ETH balance: have %s, need %s",
				ethString(balance), ethString(ethAmount))
		}
	}

	if usdcAmount.Sign() > 0 {
		balance, err := s.usdcBalance(ctx, from)
		if err != nil {
			return err
		}
		if balance.Cmp(usdcAmount) < 0 {
			return fmt.Errorf("insufficient USDC balance: have %s, need %s",
				usdcString(balance), usdcString(usdcAmount))
		}
	}
	return nil
}

func (s *Service) usdcBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	callData, err := chain.ERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	var raw []byte
	err = s.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
		var callErr error
		raw, callErr = ep.Client.CallContract(ctx, ethereum.CallMsg{
			To:   &s.usdc,
			Data: callData,
		}, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("query balanceOf: %w", err)
	}
	out, err := chain.ERC20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (s *Service) renewFunc(lease *wallet.Lease) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return s.pool.Renew(ctx, lease)
	}
}

func (s *Service) releaseLease(lease *wallet.Lease) {
	if err := s.pool.Release(context.Background(), lease); err != nil {
		s.logger.Warn("failed to release funding wallet lease",
			zap.String("wallet", lease.Wallet.Address.Hex()),
			zap.Error(err))
	}
}

func usdcString(v *big.Int) string {
	whole, frac := new(big.Int).DivMod(v, big.NewInt(1_000_000), new(big.Int))
	return fmt.Sprintf("%s.%06d", whole, frac.Int64())
}

// ethString renders wei as a decimal ETH amount.
func ethString(v *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(v), big.NewFloat(1e18))
	return f.Text('f', 6)
}

package txexec

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/metrics"
)

// ErrNonceConflict is returned when a submission failed on a stale nonce
// twice in a row: once on the cached value and once after refreshing from
// the chain. The cached nonce has been invalidated either way.
var ErrNonceConflict = errors.New("nonce conflict")

// TimeoutError reports that no receipt arrived within the deadline. The
// outcome is unknown: the transaction may still mine later. Callers must not
// treat this as success or failure.
type TimeoutError struct {
	TxHash common.Hash
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no receipt for %s within deadline: outcome unknown", e.TxHash.Hex())
}

// RevertError reports a mined-but-reverted transaction with a best-effort
// decoded reason.
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("transaction %s reverted: %s", e.TxHash.Hex(), e.Reason)
}

// Call is one prepared contract call.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
	// Renew, when set, is invoked between receipt polling rounds so the
	// caller can extend its wallet lease while the transaction is in flight.
	Renew func(ctx context.Context) error
}

// Config holds executor tuning.
type Config struct {
	// SubmitTimeout bounds each per-endpoint submission attempt.
	SubmitTimeout time.Duration
	// ReceiptTimeouts is the progressive ladder of receipt-await rounds.
	ReceiptTimeouts []time.Duration
	// ReceiptPause separates receipt-await rounds.
	ReceiptPause time.Duration
	// ReceiptPollInterval is the poll cadence inside a round.
	ReceiptPollInterval time.Duration
	// RatePerSecond caps submissions across all wallets. Zero disables.
	RatePerSecond float64
}

// Validate applies defaults.
func (c *Config) Validate() error {
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 5 * time.Second
	}
	if len(c.ReceiptTimeouts) == 0 {
		c.ReceiptTimeouts = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	}
	if c.ReceiptPause == 0 {
		c.ReceiptPause = 3 * time.Second
	}
	if c.ReceiptPollInterval == 0 {
		c.ReceiptPollInterval = 2 * time.Second
	}
	return nil
}

// Executor owns nonce assignment and submission for the wallets of this
// instance. Access per wallet is serialized by an in-process mutex on top
// of the pool's cross-instance lease.
type Executor struct {
	clients *chain.ClientSet
	signer  Signer
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	walletMu map[common.Address]*sync.Mutex
	// nonces caches the next nonce per wallet. Absence means unknown and
	// forces a refresh from the chain's pending-nonce view.
	nonces map[common.Address]uint64
}

// NewExecutor creates a transaction executor.
func NewExecutor(clients *chain.ClientSet, signer Signer, cfg Config, logger *zap.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor config: %w", err)
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Executor{
		clients:  clients,
		signer:   signer,
		cfg:      cfg,
		limiter:  limiter,
		logger:   logger,
		walletMu: make(map[common.Address]*sync.Mutex),
		nonces:   make(map[common.Address]uint64),
	}, nil
}

// lockWallet returns the serialization mutex for one wallet address.
func (e *Executor) lockWallet(addr common.Address) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.walletMu[addr]
	if !ok {
		mu = &sync.Mutex{}
		e.walletMu[addr] = mu
	}
	return mu
}

// Execute submits one call from the given wallet and blocks until it is
// confirmed, reverted, or timed out. One internal rebuild is attempted after
// a nonce conflict; a second conflict surfaces as ErrNonceConflict.
func (e *Executor) Execute(ctx context.Context, from common.Address, signerRef string, call Call) (*types.Receipt, error) {
	mu := e.lockWallet(from)
	mu.Lock()

	var txHash common.Hash
	var submitErr error
	for attempt := 0; attempt < 2; attempt++ {
		txHash, submitErr = e.submitOnce(ctx, from, signerRef, call, attempt > 0)
		if submitErr == nil {
			break
		}
		if !chain.IsNonceError(submitErr) {
			mu.Unlock()
			metrics.RecordSubmission("submit_failed")
			return nil, submitErr
		}
		metrics.RecordNonceConflict()
		e.invalidateNonce(from)
		e.logger.Warn("nonce conflict, rebuilding with refreshed nonce",
			zap.String("wallet", from.Hex()), zap.Error(submitErr))
	}
	mu.Unlock()
	if submitErr != nil {
		metrics.RecordSubmission("nonce_conflict")
		return nil, fmt.Errorf("%w: %v", ErrNonceConflict, submitErr)
	}

	submitted := time.Now()
	receipt, err := e.awaitReceipt(ctx, txHash, call.Renew)
	switch {
	case err == nil:
		metrics.RecordSubmission("confirmed")
		metrics.RecordConfirmation(time.Since(submitted))
	case errors.As(err, new(*RevertError)):
		metrics.RecordSubmission("reverted")
	case errors.As(err, new(*TimeoutError)):
		metrics.RecordSubmission("timeout")
	default:
		metrics.RecordSubmission("failed")
	}
	return receipt, err
}

// submitOnce assigns a nonce, builds, signs and submits one transaction.
// The caller holds the wallet mutex. A forced refresh bypasses the cache.
func (e *Executor) submitOnce(ctx context.Context, from common.Address, signerRef string, call Call, forceRefresh bool) (common.Hash, error) {
	nonce, err := e.nextNonce(ctx, from, forceRefresh)
	if err != nil {
		return common.Hash{}, err
	}

	var gasPrice *big.Int
	err = e.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
		var gpErr error
		gasPrice, gpErr = ep.Client.SuggestGasPrice(ctx)
		return gpErr
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	gasLimit := call.GasLimit
	if gasLimit == 0 {
		// Estimation doubles as a pre-submission revert check: a call that
		// would revert fails here without consuming the nonce.
		msg := ethereum.CallMsg{
			From:  from,
			To:    &call.To,
			Value: value,
			Data:  call.Data,
		}
		err = e.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
			var estErr error
			gasLimit, estErr = ep.Client.EstimateGas(ctx, msg)
			return estErr
		})
		if err != nil {
			if chain.IsConnectionError(err) {
				return common.Hash{}, err
			}
			return common.Hash{}, &RevertError{Reason: chain.RevertReasonFromError(err)}
		}
		// Headroom for state drift between estimation and inclusion.
		gasLimit = gasLimit * 120 / 100
	}

	tx := types.NewTransaction(nonce, call.To, value, gasLimit, gasPrice, call.Data)
	signed, err := e.signer.SignTx(ctx, signerRef, tx, e.clients.ChainID())
	if err != nil {
		return common.Hash{}, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return common.Hash{}, err
		}
	}

	err = e.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
		submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		defer cancel()
		sendErr := ep.Client.SendTransaction(submitCtx, signed)
		if chain.IsAlreadyKnown(sendErr) {
			// The pool already has this exact transaction; treat as sent.
			return nil
		}
		return sendErr
	})
	if err != nil {
		return common.Hash{}, err
	}

	// The nonce is consumed once the node accepted the transaction, even if
	// it later reverts on-chain.
	e.mu.Lock()
	e.nonces[from] = nonce + 1
	e.mu.Unlock()

	e.logger.Info("transaction submitted",
		zap.String("wallet", from.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("tx", signed.Hash().Hex()),
		zap.String("to", call.To.Hex()))
	return signed.Hash(), nil
}

// nextNonce returns the cached next nonce, refreshing from the chain when
// the cache is empty or a refresh is forced. A forced refresh asks the
// alternate endpoint first, since disagreement with the primary is the
// usual cause of a conflict; unreachable endpoints fall through to the
// normal fallback order.
func (e *Executor) nextNonce(ctx context.Context, from common.Address, forceRefresh bool) (uint64, error) {
	e.mu.Lock()
	cached, ok := e.nonces[from]
	e.mu.Unlock()
	if ok && !forceRefresh {
		return cached, nil
	}

	var nonce uint64
	fetched := false
	if forceRefresh {
		if alt, ok := e.clients.Alternate(); ok {
			if n, altErr := alt.Client.PendingNonceAt(ctx, from); altErr == nil {
				nonce, fetched = n, true
			}
		}
	}
	if !fetched {
		err := e.clients.WithFallback(ctx, func(ep chain.Endpoint) error {
			var fetchErr error
			nonce, fetchErr = ep.Client.PendingNonceAt(ctx, from)
			return fetchErr
		})
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce for %s: %w", from.Hex(), err)
		}
	}
	e.mu.Lock()
	e.nonces[from] = nonce
	e.mu.Unlock()
	e.logger.Debug("nonce refreshed",
		zap.String("wallet", from.Hex()), zap.Uint64("nonce", nonce))
	return nonce, nil
}

// invalidateNonce drops the cached nonce so the next assignment refreshes.
func (e *Executor) invalidateNonce(from common.Address) {
	e.mu.Lock()
	delete(e.nonces, from)
	e.mu.Unlock()
}

// awaitReceipt polls for the receipt through the progressive timeout ladder.
// Each round uses the next configured timeout; rounds are separated by a
// short pause during which the lease renew hook runs.
func (e *Executor) awaitReceipt(ctx context.Context, txHash common.Hash, renew func(ctx context.Context) error) (*types.Receipt, error) {
	for round, timeout := range e.cfg.ReceiptTimeouts {
		if renew != nil {
			if err := renew(ctx); err != nil {
				e.logger.Warn("lease renewal failed while awaiting receipt",
					zap.String("tx", txHash.Hex()), zap.Error(err))
			}
		}

		receipt, err := e.pollReceipt(ctx, txHash, timeout)
		if err == nil {
			return e.classifyReceipt(ctx, receipt)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("receipt round timed out",
			zap.String("tx", txHash.Hex()),
			zap.Int("round", round+1),
			zap.Duration("timeout", timeout))

		if round < len(e.cfg.ReceiptTimeouts)-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.ReceiptPause):
			}
		}
	}
	return nil, &TimeoutError{TxHash: txHash}
}

// pollReceipt polls every endpoint round-robin until a receipt arrives or
// the round's timeout elapses.
func (e *Executor) pollReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	roundCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(e.cfg.ReceiptPollInterval)
	defer ticker.Stop()
	for {
		ep := e.clients.NextForRead()
		receipt, err := ep.Client.TransactionReceipt(roundCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-roundCtx.Done():
			return nil, roundCtx.Err()
		case <-ticker.C:
		}
	}
}

// classifyReceipt maps a mined receipt to success or a decoded RevertError.
func (e *Executor) classifyReceipt(ctx context.Context, receipt *types.Receipt) (*types.Receipt, error) {
	if receipt.Status == types.ReceiptStatusSuccessful {
		e.logger.Info("transaction confirmed",
			zap.String("tx", receipt.TxHash.Hex()),
			zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return receipt, nil
	}
	reason := e.revertReason(ctx, receipt)
	e.logger.Warn("transaction reverted",
		zap.String("tx", receipt.TxHash.Hex()), zap.String("reason", reason))
	return nil, &RevertError{TxHash: receipt.TxHash, Reason: reason}
}

// revertReason replays the transaction at its block to recover revert data.
// Best effort: any failure falls back to a generic reason.
func (e *Executor) revertReason(ctx context.Context, receipt *types.Receipt) string {
	ep := e.clients.Primary()
	tx, _, err := e.transactionByHash(ctx, ep, receipt.TxHash)
	if err != nil || tx == nil {
		return "execution reverted"
	}
	from, err := types.Sender(types.LatestSignerForChainID(e.clients.ChainID()), tx)
	if err != nil {
		return "execution reverted"
	}
	_, callErr := ep.Client.CallContract(ctx, ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
		Gas:   tx.Gas(),
	}, receipt.BlockNumber)
	if callErr == nil {
		return "execution reverted"
	}
	return chain.RevertReasonFromError(callErr)
}

// transactionByHash fetches the transaction body when the endpoint supports
// it; NodeClient keeps the interface narrow, so probe for the extra method.
func (e *Executor) transactionByHash(ctx context.Context, ep chain.Endpoint, hash common.Hash) (*types.Transaction, bool, error) {
	type txReader interface {
		TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	}
	reader, ok := ep.Client.(txReader)
	if !ok {
		return nil, false, fmt.Errorf("endpoint does not expose transaction lookup")
	}
	return reader.TransactionByHash(ctx, hash)
}

// PendingNonce exposes the chain's authoritative pending nonce, used by the
// info endpoints and by nonce-drift diagnostics.
func (e *Executor) PendingNonce(ctx context.Context, from common.Address) (uint64, error) {
	return e.clients.Primary().Client.PendingNonceAt(ctx, from)
}

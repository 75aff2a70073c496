// Package chain provides EVM blockchain interaction for the orchestrator:
// a multi-endpoint client set with fallback, contract ABIs, and error
// classification for RPC and revert failures.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/metrics"
)

// NodeClient is the subset of the RPC client the orchestrator depends on.
// *ethclient.Client satisfies it; tests substitute fakes.
type NodeClient interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Endpoint is one configured RPC endpoint.
type Endpoint struct {
	URL    string
	Client NodeClient
}

// ClientSet holds the configured endpoints in fallback order. The first
// endpoint is the primary; the rest are alternates tried on connection-level
// failures. Reads that have no ordering requirement rotate round-robin.
type ClientSet struct {
	mu        sync.Mutex
	endpoints []Endpoint
	next      int
	chainID   *big.Int
	logger    *zap.Logger
}

// Config holds client set configuration.
type Config struct {
	URLs        []string
	ChainID     int64
	DialTimeout time.Duration
}

// Dial connects to every configured endpoint. All endpoints must be
// reachable at startup; a dead alternate discovered later is skipped by the
// fallback logic instead.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*ClientSet, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one RPC URL required")
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	set := &ClientSet{
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger,
	}
	for _, url := range cfg.URLs {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		set.endpoints = append(set.endpoints, Endpoint{URL: url, Client: client})
	}
	logger.Info("connected to RPC endpoints", zap.Int("count", len(set.endpoints)))
	return set, nil
}

// NewClientSet wraps pre-built clients; used by tests and by callers that
// manage dialing themselves.
func NewClientSet(endpoints []Endpoint, chainID int64, logger *zap.Logger) *ClientSet {
	return &ClientSet{
		endpoints: endpoints,
		chainID:   big.NewInt(chainID),
		logger:    logger,
	}
}

// ChainID returns the configured chain id.
func (s *ClientSet) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// Primary returns the first configured endpoint.
func (s *ClientSet) Primary() Endpoint {
	return s.endpoints[0]
}

// Alternate returns the first alternate endpoint, or false when only the
// primary is configured.
func (s *ClientSet) Alternate() (Endpoint, bool) {
	if len(s.endpoints) < 2 {
		return Endpoint{}, false
	}
	return s.endpoints[1], true
}

// Endpoints returns the endpoints in fallback order.
func (s *ClientSet) Endpoints() []Endpoint {
	return s.endpoints
}

// NextForRead returns the next endpoint round-robin, for load-spreading
// reads where any endpoint's answer is acceptable.
func (s *ClientSet) NextForRead() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.endpoints[s.next]
	s.next = (s.next + 1) % len(s.endpoints)
	return ep
}

// WithFallback runs fn against each endpoint in order until it succeeds or
// returns a non-connection error. Connection-level failures advance to the
// next endpoint; anything else (revert, nonce conflict) is authoritative and
// returned as-is.
func (s *ClientSet) WithFallback(ctx context.Context, fn func(ep Endpoint) error) error {
	var lastErr error
	for i, ep := range s.endpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ep)
		if err == nil {
			return nil
		}
		if !IsConnectionError(err) {
			return err
		}
		metrics.RecordEndpointFailover()
		s.logger.Warn("endpoint unreachable, trying next",
			zap.String("url", ep.URL),
			zap.Int("index", i),
			zap.Error(err))
		lastErr = err
	}
	return fmt.Errorf("all %d endpoints failed: %w", len(s.endpoints), lastErr)
}

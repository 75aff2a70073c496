// Package api exposes the orchestrator's HTTP surface: beacon lifecycle
// routes, perp deployment, wallet administration, and operational probes.
package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/beacon"
	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/funding"
	"github.com/R3E-Network/beacon-orchestrator/internal/metrics"
	"github.com/R3E-Network/beacon-orchestrator/internal/perp"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
)

// BeaconService is the beacon surface the handlers depend on.
type BeaconService interface {
	Create(ctx context.Context, owner common.Address) (*beacon.CreateResult, error)
	BatchCreate(ctx context.Context, count int, owner common.Address) (*txexec.BatchSummary, error)
	Register(ctx context.Context, beacon common.Address) (common.Hash, bool, error)
	Update(ctx context.Context, beacon common.Address, proof, publicSignals []byte) (*beacon.UpdateResult, error)
	BatchUpdate(ctx context.Context, items []beacon.UpdateItem) ([]beacon.UpdateOutcome, error)
	UpdateECDSA(ctx context.Context, hashSigner txexec.HashSigner, b common.Address, measurement *big.Int) (*beacon.EcdsaUpdateResult, error)
	CreateVerifiable(ctx context.Context, verifier common.Address, initialData *big.Int, initialCardinality uint32) (*beacon.VerifiableCreateResult, error)
	GetData(ctx context.Context, beacon common.Address) (data, timestamp *big.Int, err error)
	GetTwap(ctx context.Context, beacon common.Address, secondsAgo uint32) (*big.Int, error)
}

// PerpService is the perp surface the handlers depend on.
type PerpService interface {
	Deploy(ctx context.Context, beacon common.Address) (*perp.DeployResult, error)
	DepositLiquidity(ctx context.Context, perpID common.Hash, marginUSDC *big.Int) (*perp.DepositResult, error)
}

// FundingService transfers assets to guest wallets.
type FundingService interface {
	FundGuest(ctx context.Context, guest common.Address, usdcAmount, ethAmount *big.Int) (*funding.FundResult, error)
}

// WalletAdmin is the wallet administration surface.
type WalletAdmin interface {
	Add(ctx context.Context, addr common.Address, signerRef string) error
	Disable(ctx context.Context, addr common.Address) error
	List(ctx context.Context) ([]*wallet.Wallet, error)
}

// TypeStore is the beacon type configuration surface.
type TypeStore interface {
	Register(ctx context.Context, cfg *beacon.TypeConfig) error
	Get(ctx context.Context, slug string) (*beacon.TypeConfig, error)
	List(ctx context.Context) ([]*beacon.TypeConfig, error)
}

// Server wires the services into gin handlers.
type Server struct {
	beacons    BeaconService
	perps      PerpService
	funding    FundingService
	wallets    WalletAdmin
	types      TypeStore
	clients    *chain.ClientSet
	hashSigner txexec.HashSigner
	logger     *zap.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(beacons BeaconService, perps PerpService, funds FundingService, wallets WalletAdmin, types TypeStore, clients *chain.ClientSet, hashSigner txexec.HashSigner, logger *zap.Logger) *Server {
	return &Server{
		beacons:    beacons,
		perps:      perps,
		funding:    funds,
		wallets:    wallets,
		types:      types,
		clients:    clients,
		hashSigner: hashSigner,
		logger:     logger,
	}
}

// Router builds the gin engine with all routes registered. Mutating routes
// sit behind bearer auth; probes and reads are open.
func (s *Server) Router(bearerToken string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Metrics())

	r.GET("/health", s.handleHealth)
	r.GET("/info", s.handleInfo)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/beacon/:address/data", s.handleGetData)
	r.GET("/beacon/:address/twap", s.handleGetTwap)
	r.GET("/beacon-types", s.handleListTypes)
	r.GET("/wallets", s.handleListWallets)

	auth := r.Group("/", BearerAuth(bearerToken))
	auth.POST("/beacon", s.handleCreate)
	auth.POST("/beacon/batch", s.handleBatchCreate)
	auth.POST("/beacon/register", s.handleRegister)
	auth.POST("/beacon/update", s.handleUpdate)
	auth.POST("/beacon/update/batch", s.handleBatchUpdate)
	auth.POST("/beacon/update/ecdsa", s.handleUpdateECDSA)
	auth.POST("/beacon/verifiable", s.handleCreateVerifiable)
	auth.POST("/perp", s.handleDeployPerp)
	auth.POST("/perp/:id/liquidity", s.handleDepositLiquidity)
	auth.POST("/wallets", s.handleAddWallet)
	auth.POST("/wallets/fund", s.handleFundGuest)
	auth.POST("/wallets/:address/disable", s.handleDisableWallet)
	auth.POST("/beacon-types", s.handleRegisterType)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInfo(c *gin.Context) {
	urls := make([]string, 0, len(s.clients.Endpoints()))
	for _, ep := range s.clients.Endpoints() {
		urls = append(urls, ep.URL)
	}
	walletCount := 0
	if list, err := s.wallets.List(c.Request.Context()); err == nil {
		walletCount = len(list)
	}
	c.JSON(http.StatusOK, gin.H{
		"chain_id":  s.clients.ChainID().Int64(),
		"endpoints": urls,
		"wallets":   walletCount,
	})
}

// respondError maps service failures to HTTP statuses. Reverts are the
// caller's problem, pool exhaustion and timeouts are the infrastructure's.
func (s *Server) respondError(c *gin.Context, err error) {
	var revertErr *txexec.RevertError
	var timeoutErr *txexec.TimeoutError
	switch {
	case errors.Is(err, wallet.ErrNoWalletAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &revertErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, txexec.ErrEventNotFound):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrWalletNotFound), errors.Is(err, beacon.ErrTypeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Package main runs the beacon orchestrator server: an HTTP API that
// leases pooled wallets, submits beacon and perp transactions with nonce
// coordination, and verifies the resulting on-chain events.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/api"
	"github.com/R3E-Network/beacon-orchestrator/internal/beacon"
	"github.com/R3E-Network/beacon-orchestrator/internal/chain"
	"github.com/R3E-Network/beacon-orchestrator/internal/config"
	"github.com/R3E-Network/beacon-orchestrator/internal/funding"
	"github.com/R3E-Network/beacon-orchestrator/internal/perp"
	"github.com/R3E-Network/beacon-orchestrator/internal/txexec"
	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
	"github.com/R3E-Network/beacon-orchestrator/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "beacon-orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Development})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting beacon orchestrator",
		zap.String("listen", cfg.ListenAddr),
		zap.Int64("chain_id", cfg.ChainID),
		zap.Int("endpoints", len(cfg.RPCURLs)))

	clients, err := chain.Dial(ctx, chain.Config{URLs: cfg.RPCURLs, ChainID: cfg.ChainID}, log)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.RedisURL, err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "orchestrator"
	}
	instanceID := hostname + "-" + uuid.NewString()[:8]

	registry := wallet.NewRedisRegistry(rdb, cfg.KeyPrefix)
	locks := wallet.NewRedisLockStore(rdb, cfg.KeyPrefix)
	pool, err := wallet.NewPool(registry, locks, wallet.PoolConfig{
		InstanceID:     instanceID,
		LeaseTTL:       cfg.LeaseTTL,
		AcquireRetries: cfg.AcquireRetries,
		AcquireDelay:   cfg.AcquireDelay,
	}, log)
	if err != nil {
		return fmt.Errorf("build wallet pool: %w", err)
	}

	keyring, err := txexec.NewLocalKeyring(cfg.PrivateKeys)
	if err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}
	for _, addr := range keyring.Addresses() {
		// Existing records keep their designated-beacon affinity; only
		// wallets the registry has never seen are provisioned.
		if _, err := registry.Get(ctx, addr); errors.Is(err, wallet.ErrWalletNotFound) {
			if err := pool.Add(ctx, addr, addr.Hex()); err != nil {
				return fmt.Errorf("provision wallet %s: %w", addr.Hex(), err)
			}
			log.Info("provisioned wallet", zap.String("address", addr.Hex()))
		} else if err != nil {
			return fmt.Errorf("check wallet %s: %w", addr.Hex(), err)
		}
	}

	executor, err := txexec.NewExecutor(clients, keyring, txexec.Config{
		SubmitTimeout:   cfg.SubmitTimeout,
		ReceiptTimeouts: cfg.ReceiptTimeouts,
		ReceiptPause:    cfg.ReceiptPause,
		RatePerSecond:   cfg.RatePerSecond,
	}, log)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}
	batcher := txexec.NewBatcher(executor, clients, cfg.Multicall3, log)

	types := beacon.NewTypeRegistry(rdb, cfg.KeyPrefix)
	seeded, err := types.SeedDefaults(ctx, defaultBeaconTypes(cfg))
	if err != nil {
		return fmt.Errorf("seed beacon types: %w", err)
	}
	if seeded > 0 {
		log.Info("seeded beacon types", zap.Int("count", seeded))
	}

	beacons := beacon.NewService(pool, executor, batcher, clients, types, beacon.Addresses{
		Factory:            cfg.BeaconFactory,
		Registry:           cfg.BeaconRegistry,
		DichotomousFactory: cfg.DichotomousFactory,
	}, log)

	perps, err := perp.NewService(pool, executor, clients, perp.DefaultConfig(), perp.Addresses{
		Manager: cfg.PerpManager,
		USDC:    cfg.USDCToken,
	}, log)
	if err != nil {
		return fmt.Errorf("build perp service: %w", err)
	}

	funds, err := funding.NewService(pool, executor, clients, funding.Config{
		USDCTransferLimit: cfg.USDCTransferLimit,
		ETHTransferLimit:  cfg.ETHTransferLimit,
	}, cfg.USDCToken, log)
	if err != nil {
		return fmt.Errorf("build funding service: %w", err)
	}

	go pool.RunReclaimWorker(ctx, cfg.ReclaimInterval)

	server := api.NewServer(beacons, perps, funds, pool, types, clients, keyring, log)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(cfg.BearerToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// defaultBeaconTypes is the seed catalogue: the standard factory plus, when
// configured, the dichotomous verifier-bound factory.
func defaultBeaconTypes(cfg *config.Config) []*beacon.TypeConfig {
	typeConfigs := []*beacon.TypeConfig{{
		Slug:        "standard",
		Name:        "Standard Beacon",
		Description: "ZK proof-gated data beacon",
		Factory:     cfg.BeaconFactory,
		FactoryKind: beacon.FactoryStandard,
		Registry:    cfg.BeaconRegistry,
		Enabled:     true,
	}}
	if cfg.DichotomousFactory != (common.Address{}) {
		typeConfigs = append(typeConfigs, &beacon.TypeConfig{
			Slug:        "dichotomous",
			Name:        "Dichotomous Beacon",
			Description: "Verifier-bound beacon with TWAP observations",
			Factory:     cfg.DichotomousFactory,
			FactoryKind: beacon.FactoryDichotomous,
			Enabled:     true,
		})
	}
	return typeConfigs
}

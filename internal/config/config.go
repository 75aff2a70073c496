// Package config loads process configuration from the environment.
//
// All tunables carry defaults so a development instance can start with only
// RPC_URL, PRIVATE_KEYS and the contract addresses set. A .env file in the
// working directory is honored when present.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	// Server
	ListenAddr  string
	BearerToken string
	LogLevel    string
	Development bool

	// Chain endpoints, in fallback order. The first entry is the primary.
	RPCURLs []string
	ChainID int64

	// Redis lock/registry store
	RedisURL  string
	KeyPrefix string

	// Wallets: hex private keys provisioned at startup (development path;
	// production pools are provisioned out of band and loaded from the store).
	PrivateKeys []string

	// Contract addresses
	BeaconFactory      common.Address
	BeaconRegistry     common.Address
	DichotomousFactory common.Address
	PerpManager        common.Address
	Multicall3         common.Address
	USDCToken          common.Address

	// Wallet pool tuning
	LeaseTTL        time.Duration
	AcquireRetries  int
	AcquireDelay    time.Duration
	ReclaimInterval time.Duration

	// Executor tuning
	SubmitTimeout   time.Duration
	ReceiptTimeouts []time.Duration
	ReceiptPause    time.Duration
	RatePerSecond   float64

	// Guest funding caps per request
	USDCTransferLimit *big.Int
	ETHTransferLimit  *big.Int
}

// Load reads configuration from the environment, applying defaults and
// validating required fields.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		BearerToken:     os.Getenv("API_BEARER_TOKEN"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Development:     getEnvBool("DEV_MODE", false),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		KeyPrefix:       getEnv("REDIS_KEY_PREFIX", "beaconator:"),
		LeaseTTL:        getEnvDuration("WALLET_LEASE_TTL", 60*time.Second),
		AcquireRetries:  getEnvInt("WALLET_ACQUIRE_RETRIES", 10),
		AcquireDelay:    getEnvDuration("WALLET_ACQUIRE_DELAY", 500*time.Millisecond),
		ReclaimInterval: getEnvDuration("WALLET_RECLAIM_INTERVAL", 30*time.Second),
		SubmitTimeout:   getEnvDuration("TX_SUBMIT_TIMEOUT", 5*time.Second),
		ReceiptPause:    getEnvDuration("TX_RECEIPT_PAUSE", 3*time.Second),
		RatePerSecond:   getEnvFloat("TX_RATE_PER_SECOND", 10),
	}

	// Guest funding caps: default 1000 USDC and 0.01 ETH.
	usdcLimit, err := getEnvBig("USDC_TRANSFER_LIMIT", "1000000000")
	if err != nil {
		return nil, err
	}
	cfg.USDCTransferLimit = usdcLimit
	ethLimit, err := getEnvBig("ETH_TRANSFER_LIMIT", "10000000000000000")
	if err != nil {
		return nil, err
	}
	cfg.ETHTransferLimit = ethLimit

	primary := os.Getenv("RPC_URL")
	if primary == "" {
		return nil, fmt.Errorf("RPC_URL is required")
	}
	cfg.RPCURLs = append(cfg.RPCURLs, primary)
	for _, alt := range splitList(os.Getenv("RPC_URLS_ALTERNATE")) {
		cfg.RPCURLs = append(cfg.RPCURLs, alt)
	}

	chainID, err := strconv.ParseInt(getEnv("CHAIN_ID", "8453"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse CHAIN_ID: %w", err)
	}
	cfg.ChainID = chainID

	cfg.PrivateKeys = splitList(os.Getenv("PRIVATE_KEYS"))

	for _, timeout := range splitList(getEnv("TX_RECEIPT_TIMEOUTS", "30s,60s,120s")) {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("parse TX_RECEIPT_TIMEOUTS entry %q: %w", timeout, err)
		}
		cfg.ReceiptTimeouts = append(cfg.ReceiptTimeouts, d)
	}

	addrs := []struct {
		env      string
		dst      *common.Address
		required bool
	}{
		{"BEACON_FACTORY_ADDRESS", &cfg.BeaconFactory, true},
		{"BEACON_REGISTRY_ADDRESS", &cfg.BeaconRegistry, true},
		{"DICHOTOMOUS_FACTORY_ADDRESS", &cfg.DichotomousFactory, false},
		{"PERP_MANAGER_ADDRESS", &cfg.PerpManager, false},
		{"MULTICALL3_ADDRESS", &cfg.Multicall3, false},
		{"USDC_ADDRESS", &cfg.USDCToken, false},
	}
	for _, a := range addrs {
		raw := os.Getenv(a.env)
		if raw == "" {
			if a.required {
				return nil, fmt.Errorf("%s is required", a.env)
			}
			continue
		}
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("%s: invalid address %q", a.env, raw)
		}
		*a.dst = common.HexToAddress(raw)
	}

	if cfg.Multicall3 == (common.Address{}) {
		// Canonical Multicall3 deployment address, identical on most chains.
		cfg.Multicall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	}

	if cfg.LeaseTTL < time.Second {
		return nil, fmt.Errorf("WALLET_LEASE_TTL too short: %s", cfg.LeaseTTL)
	}
	if len(cfg.ReceiptTimeouts) == 0 {
		return nil, fmt.Errorf("TX_RECEIPT_TIMEOUTS must name at least one timeout")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBig(key, fallback string) (*big.Int, error) {
	raw := getEnv(key, fallback)
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("parse %s: invalid amount %q", key, raw)
	}
	return v, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

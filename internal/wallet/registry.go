package wallet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

// Registry persists wallet records and beacon affinity in the shared store.
// Layout, all under the configured prefix:
//
//	wallet_pool                set of known wallet addresses
//	wallet:{addr}              JSON wallet record
//	beacon_wallet:{beacon}     beacon -> designated wallet address
//	wallet_beacons:{addr}      set of beacons designated to the wallet
type Registry interface {
	Save(ctx context.Context, w *Wallet) error
	Get(ctx context.Context, addr common.Address) (*Wallet, error)
	List(ctx context.Context) ([]*Wallet, error)
	SetDesignated(ctx context.Context, beacon string, addr common.Address) error
	DesignatedWallet(ctx context.Context, beacon string) (common.Address, bool, error)
}

// ErrWalletNotFound is returned for addresses absent from the registry.
var ErrWalletNotFound = fmt.Errorf("wallet not found")

// RedisRegistry implements Registry on Redis.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry creates a registry using the given key prefix.
func NewRedisRegistry(client *redis.Client, prefix string) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) poolKey() string              { return r.prefix + "wallet_pool" }
func (r *RedisRegistry) walletKey(addr string) string { return r.prefix + "wallet:" + addr }
func (r *RedisRegistry) beaconKey(b string) string    { return r.prefix + "beacon_wallet:" + b }
func (r *RedisRegistry) beaconsKey(a string) string   { return r.prefix + "wallet_beacons:" + a }

// Save writes the wallet record and registers its address in the pool set.
func (r *RedisRegistry) Save(ctx context.Context, w *Wallet) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal wallet %s: %w", w.Address.Hex(), err)
	}
	addr := w.Address.Hex()
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.poolKey(), addr)
	pipe.Set(ctx, r.walletKey(addr), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save wallet %s: %w", addr, err)
	}
	return nil
}

// Get loads one wallet record.
func (r *RedisRegistry) Get(ctx context.Context, addr common.Address) (*Wallet, error) {
	data, err := r.client.Get(ctx, r.walletKey(addr.Hex())).Bytes()
	if err == redis.Nil {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", addr.Hex(), err)
	}
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal wallet %s: %w", addr.Hex(), err)
	}
	return &w, nil
}

// List loads every wallet in the pool set. Records missing their JSON body
// are skipped rather than failing the whole listing.
func (r *RedisRegistry) List(ctx context.Context) ([]*Wallet, error) {
	addrs, err := r.client.SMembers(ctx, r.poolKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list wallet pool: %w", err)
	}
	wallets := make([]*Wallet, 0, len(addrs))
	for _, addr := range addrs {
		w, err := r.Get(ctx, common.HexToAddress(addr))
		if err == ErrWalletNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

// SetDesignated records sticky affinity between a beacon and a wallet.
func (r *RedisRegistry) SetDesignated(ctx context.Context, beacon string, addr common.Address) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.beaconKey(beacon), addr.Hex(), 0)
	pipe.SAdd(ctx, r.beaconsKey(addr.Hex()), beacon)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set designated wallet for beacon %s: %w", beacon, err)
	}
	return nil
}

// DesignatedWallet returns the wallet designated to a beacon, if any.
func (r *RedisRegistry) DesignatedWallet(ctx context.Context, beacon string) (common.Address, bool, error) {
	addr, err := r.client.Get(ctx, r.beaconKey(beacon)).Result()
	if err == redis.Nil {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("get designated wallet for beacon %s: %w", beacon, err)
	}
	return common.HexToAddress(addr), true, nil
}

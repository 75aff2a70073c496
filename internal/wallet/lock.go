package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// LockStore provides the cross-instance exclusivity primitive: an atomic
// set-if-absent with TTL, and owner-checked release and renewal. Only the
// holder recorded in the key may release or extend it.
type LockStore interface {
	// Acquire sets the lock key to owner with the given TTL if it is absent.
	// Returns false when the lock is already held.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release deletes the lock key only if owner still holds it. Returns
	// false when the lock had already expired or been taken by another owner.
	Release(ctx context.Context, key, owner string) (bool, error)
	// Renew extends the TTL only if owner still holds the lock.
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Owner returns the current holder, or "" when unlocked.
	Owner(ctx context.Context, key string) (string, error)
}

// Owner-checked delete: release must not clobber a lock that expired and
// was reacquired by another instance.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Owner-checked extend, same reasoning as release.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`)

// RedisLockStore implements LockStore on a shared Redis instance.
type RedisLockStore struct {
	client *redis.Client
	prefix string
}

var _ LockStore = (*RedisLockStore)(nil)

// NewRedisLockStore creates a lock store using the given key prefix.
func NewRedisLockStore(client *redis.Client, prefix string) *RedisLockStore {
	return &RedisLockStore{client: client, prefix: prefix}
}

func (s *RedisLockStore) lockKey(key string) string {
	return s.prefix + "wallet_lock:" + key
}

// Acquire implements LockStore.
func (s *RedisLockStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(key), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// Release implements LockStore.
func (s *RedisLockStore) Release(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Renew implements LockStore.
func (s *RedisLockStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{s.lockKey(key)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Owner implements LockStore.
func (s *RedisLockStore) Owner(ctx context.Context, key string) (string, error) {
	owner, err := s.client.Get(ctx, s.lockKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock owner %s: %w", key, err)
	}
	return owner, nil
}

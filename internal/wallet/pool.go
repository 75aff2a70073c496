package wallet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/R3E-Network/beacon-orchestrator/internal/metrics"
)

// ErrNoWalletAvailable is returned when every usable wallet is leased for the
// whole acquire budget. Callers treat it as retryable with backoff.
var ErrNoWalletAvailable = errors.New("no wallet available")

// PoolConfig holds pool tuning.
type PoolConfig struct {
	// InstanceID identifies this process as a lock owner.
	InstanceID string
	// LeaseTTL bounds how long a crashed holder can block a wallet.
	LeaseTTL time.Duration
	// AcquireRetries is the number of full pool scans before giving up.
	AcquireRetries int
	// AcquireDelay is the pause between scans.
	AcquireDelay time.Duration
}

// Validate checks the config, applying defaults for unset tunables.
func (c *PoolConfig) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance ID required")
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 60 * time.Second
	}
	if c.AcquireRetries == 0 {
		c.AcquireRetries = 10
	}
	if c.AcquireDelay == 0 {
		c.AcquireDelay = 500 * time.Millisecond
	}
	return nil
}

// Lease is an exclusive, time-bounded claim on one wallet.
type Lease struct {
	Wallet *Wallet
	owner  string
}

// Pool leases wallets to logical operations. Exclusivity is enforced by the
// lock store; the registry records are informational state for operators.
type Pool struct {
	registry Registry
	locks    LockStore
	cfg      PoolConfig
	logger   *zap.Logger
}

// NewPool creates a wallet pool.
func NewPool(registry Registry, locks LockStore, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pool config: %w", err)
	}
	return &Pool{
		registry: registry,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// InstanceID returns the lock-owner id of this process.
func (p *Pool) InstanceID() string {
	return p.cfg.InstanceID
}

// Acquire leases a wallet. When beaconHint names a beacon with a designated
// wallet, that wallet is tried first; otherwise candidates are tried in
// least-recently-used order. Scans repeat with a delay up to the configured
// retry budget before giving up with ErrNoWalletAvailable.
func (p *Pool) Acquire(ctx context.Context, beaconHint string) (*Lease, error) {
	started := time.Now()
	for attempt := 0; attempt < p.cfg.AcquireRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.AcquireDelay):
			}
		}

		candidates, err := p.candidates(ctx, beaconHint)
		if err != nil {
			return nil, err
		}
		// Each lease gets its own owner token so a stale release from an
		// earlier lease on the same instance cannot clobber a newer one.
		token := p.cfg.InstanceID + ":" + uuid.NewString()
		for _, w := range candidates {
			ok, err := p.locks.Acquire(ctx, w.Address.Hex(), token, p.cfg.LeaseTTL)
			if err != nil {
				// Lock store failure is fatal: without it the
				// exclusivity invariant cannot be preserved.
				return nil, err
			}
			if !ok {
				continue
			}
			w.Status = StatusLeased
			w.LockedBy = p.cfg.InstanceID
			w.LastUsedAt = time.Now().UTC()
			if err := p.registry.Save(ctx, w); err != nil {
				p.logger.Warn("failed to persist lease state",
					zap.String("wallet", w.Address.Hex()), zap.Error(err))
			}
			p.logger.Debug("wallet leased",
				zap.String("wallet", w.Address.Hex()),
				zap.String("instance", p.cfg.InstanceID))
			metrics.RecordLeaseAcquisition("acquired", time.Since(started))
			return &Lease{Wallet: w, owner: token}, nil
		}
	}
	metrics.RecordLeaseAcquisition("exhausted", time.Since(started))
	return nil, ErrNoWalletAvailable
}

// AcquireAddress leases one specific wallet, for operations bound to a
// designated signing identity. Retries on contention like Acquire.
func (p *Pool) AcquireAddress(ctx context.Context, addr common.Address) (*Lease, error) {
	w, err := p.registry.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !w.Usable() {
		return nil, fmt.Errorf("wallet %s is disabled", addr.Hex())
	}
	token := p.cfg.InstanceID + ":" + uuid.NewString()
	for attempt := 0; attempt < p.cfg.AcquireRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.AcquireDelay):
			}
		}
		ok, err := p.locks.Acquire(ctx, w.Address.Hex(), token, p.cfg.LeaseTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		w.Status = StatusLeased
		w.LockedBy = p.cfg.InstanceID
		w.LastUsedAt = time.Now().UTC()
		if err := p.registry.Save(ctx, w); err != nil {
			p.logger.Warn("failed to persist lease state",
				zap.String("wallet", w.Address.Hex()), zap.Error(err))
		}
		return &Lease{Wallet: w, owner: token}, nil
	}
	return nil, ErrNoWalletAvailable
}

// Release clears the lease. Releasing a lease that already expired and was
// reclaimed elsewhere is a no-op: the owner check in the lock store prevents
// clobbering the new holder.
func (p *Pool) Release(ctx context.Context, lease *Lease) error {
	released, err := p.locks.Release(ctx, lease.Wallet.Address.Hex(), lease.owner)
	if err != nil {
		return err
	}
	if !released {
		p.logger.Warn("lease already expired or reclaimed",
			zap.String("wallet", lease.Wallet.Address.Hex()))
		return nil
	}
	lease.Wallet.Status = StatusAvailable
	lease.Wallet.LockedBy = ""
	if err := p.registry.Save(ctx, lease.Wallet); err != nil {
		p.logger.Warn("failed to persist release state",
			zap.String("wallet", lease.Wallet.Address.Hex()), zap.Error(err))
	}
	return nil
}

// Renew extends the lease TTL while a transaction is in flight, preventing a
// false reclaim mid-operation.
func (p *Pool) Renew(ctx context.Context, lease *Lease) error {
	renewed, err := p.locks.Renew(ctx, lease.Wallet.Address.Hex(), lease.owner, p.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !renewed {
		return fmt.Errorf("lease on %s lost", lease.Wallet.Address.Hex())
	}
	return nil
}

// candidates returns usable wallets in preference order: the designated
// wallet for beaconHint first when one exists, then the rest by
// least-recently-used.
func (p *Pool) candidates(ctx context.Context, beaconHint string) ([]*Wallet, error) {
	wallets, err := p.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	usable := wallets[:0]
	for _, w := range wallets {
		if w.Usable() {
			usable = append(usable, w)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].LastUsedAt.Before(usable[j].LastUsedAt)
	})

	if beaconHint == "" {
		return usable, nil
	}
	designated, found, err := p.registry.DesignatedWallet(ctx, beaconHint)
	if err != nil {
		return nil, err
	}
	if !found {
		return usable, nil
	}
	ordered := make([]*Wallet, 0, len(usable))
	for _, w := range usable {
		if w.Address == designated {
			ordered = append([]*Wallet{w}, ordered...)
		} else {
			ordered = append(ordered, w)
		}
	}
	return ordered, nil
}

// Add provisions a wallet record into the pool.
func (p *Pool) Add(ctx context.Context, addr common.Address, signerRef string) error {
	return p.registry.Save(ctx, &Wallet{
		Address:    addr,
		SignerRef:  signerRef,
		Status:     StatusAvailable,
		LastUsedAt: time.Now().UTC(),
	})
}

// Disable removes a wallet from leasing consideration without deleting it.
func (p *Pool) Disable(ctx context.Context, addr common.Address) error {
	w, err := p.registry.Get(ctx, addr)
	if err != nil {
		return err
	}
	w.Status = StatusDisabled
	return p.registry.Save(ctx, w)
}

// List returns every wallet record.
func (p *Pool) List(ctx context.Context) ([]*Wallet, error) {
	return p.registry.List(ctx)
}

// SetDesignated records beacon-to-wallet affinity.
func (p *Pool) SetDesignated(ctx context.Context, beacon string, addr common.Address) error {
	return p.registry.SetDesignated(ctx, beacon, addr)
}

// DesignatedWallet returns the wallet designated to a beacon, if any.
func (p *Pool) DesignatedWallet(ctx context.Context, beacon string) (common.Address, bool, error) {
	return p.registry.DesignatedWallet(ctx, beacon)
}

// RunReclaimWorker repairs wallet records whose lock key expired while the
// record still says leased (a crashed holder). The lock key itself needs no
// repair, it self-expires. Blocks until ctx is cancelled.
func (p *Pool) RunReclaimWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaimPass(ctx)
		}
	}
}

func (p *Pool) reclaimPass(ctx context.Context) {
	wallets, err := p.registry.List(ctx)
	if err != nil {
		p.logger.Warn("reclaim pass failed to list wallets", zap.Error(err))
		return
	}
	leased := 0
	for _, w := range wallets {
		if w.Status != StatusLeased {
			continue
		}
		owner, err := p.locks.Owner(ctx, w.Address.Hex())
		if err != nil {
			p.logger.Warn("reclaim pass lock check failed",
				zap.String("wallet", w.Address.Hex()), zap.Error(err))
			continue
		}
		if owner != "" {
			leased++
			continue
		}
		w.Status = StatusAvailable
		w.LockedBy = ""
		if err := p.registry.Save(ctx, w); err != nil {
			p.logger.Warn("reclaim pass failed to repair record",
				zap.String("wallet", w.Address.Hex()), zap.Error(err))
			continue
		}
		p.logger.Info("reclaimed abandoned wallet record",
			zap.String("wallet", w.Address.Hex()))
	}
	p.logger.Debug("pool occupancy",
		zap.Int("total", len(wallets)), zap.Int("leased", leased))
}

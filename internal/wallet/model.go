// Package wallet manages the shared pool of signing identities: a Redis-backed
// registry of wallet records, a distributed TTL lock per wallet, and the pool
// that leases wallets to operations.
package wallet

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle state of a wallet in the pool.
type Status string

const (
	StatusAvailable Status = "available"
	StatusLeased    Status = "leased"
	StatusDisabled  Status = "disabled"
)

// Wallet is one signing identity. Records are provisioned at startup or via
// the admin API and never deleted, only disabled.
type Wallet struct {
	Address   common.Address `json:"address"`
	SignerRef string         `json:"signer_ref"`
	Status    Status         `json:"status"`
	// LockedBy is the instance id of the current lease holder, informational
	// only; the lock key in the lock store is authoritative.
	LockedBy   string    `json:"locked_by,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
	// DesignatedBeacons lists beacon addresses with sticky affinity to this
	// wallet. Updates for those beacons prefer this wallet.
	DesignatedBeacons []string `json:"designated_beacons,omitempty"`
}

// Usable reports whether the wallet can be considered for leasing.
func (w *Wallet) Usable() bool {
	return w.Status != StatusDisabled
}

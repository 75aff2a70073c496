// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/R3E-Network/beacon-orchestrator/internal/wallet"
)

// MockNode is a test implementation of the chain.NodeClient interface.
// Reads are routed through CallHandler; accepted transactions get a
// receipt carrying Logs.
type MockNode struct {
	mu   sync.Mutex
	sent []*types.Transaction

	// CallHandler answers CallContract. Nil means every read fails.
	CallHandler func(msg ethereum.CallMsg) ([]byte, error)
	// Logs are attached to every receipt.
	Logs []*types.Log
	// SendErr, when set, fails every SendTransaction.
	SendErr error
	// ReceiptStatus is applied to every receipt.
	ReceiptStatus uint64
	// PendingNonce seeds the nonce returned by PendingNonceAt.
	PendingNonce uint64
	// ETHBalance answers BalanceAt for every account. Nil means zero.
	ETHBalance *big.Int
}

// NewMockNode creates a mock node whose transactions succeed.
func NewMockNode() *MockNode {
	return &MockNode{ReceiptStatus: types.ReceiptStatusSuccessful}
}

// SendTransaction records the transaction unless SendErr is set.
func (m *MockNode) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

// TransactionReceipt returns a receipt for any recorded transaction.
func (m *MockNode) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{
				TxHash:      txHash,
				Status:      m.ReceiptStatus,
				BlockNumber: big.NewInt(42),
				Logs:        m.Logs,
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

// PendingNonceAt returns the seeded nonce.
func (m *MockNode) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PendingNonce, nil
}

// CallContract delegates to CallHandler.
func (m *MockNode) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if m.CallHandler == nil {
		return nil, fmt.Errorf("unexpected call")
	}
	return m.CallHandler(msg)
}

// SuggestGasPrice returns a fixed 1 gwei.
func (m *MockNode) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas returns a fixed estimate.
func (m *MockNode) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

// BalanceAt returns the seeded ETH balance.
func (m *MockNode) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ETHBalance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(m.ETHBalance), nil
}

// SentCount returns how many transactions were accepted.
func (m *MockNode) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// SentData returns the calldata of the i-th accepted transaction.
func (m *MockNode) SentData(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[i].Data()
}

// MockLockStore is an in-memory implementation of the wallet.LockStore
// interface. Locks never expire; tests exercise explicit release paths.
type MockLockStore struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewMockLockStore creates an empty lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{owners: make(map[string]string)}
}

// Acquire takes the lock when free.
func (m *MockLockStore) Acquire(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[key]; held {
		return false, nil
	}
	m.owners[key] = owner
	return true, nil
}

// Release frees the lock when owner still holds it.
func (m *MockLockStore) Release(_ context.Context, key, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] != owner {
		return false, nil
	}
	delete(m.owners, key)
	return true, nil
}

// Renew reports whether owner still holds the lock.
func (m *MockLockStore) Renew(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[key] == owner, nil
}

// Owner returns the current holder, or "" when unlocked.
func (m *MockLockStore) Owner(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[key], nil
}

// MockWalletRegistry is an in-memory implementation of the wallet.Registry
// interface.
type MockWalletRegistry struct {
	mu         sync.Mutex
	wallets    map[common.Address]*wallet.Wallet
	designated map[string]common.Address
}

// NewMockWalletRegistry creates an empty registry.
func NewMockWalletRegistry() *MockWalletRegistry {
	return &MockWalletRegistry{
		wallets:    make(map[common.Address]*wallet.Wallet),
		designated: make(map[string]common.Address),
	}
}

// Save stores a copy of the wallet record.
func (m *MockWalletRegistry) Save(_ context.Context, w *wallet.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wallets[w.Address] = &cp
	return nil
}

// Get returns a copy of the wallet record.
func (m *MockWalletRegistry) Get(_ context.Context, addr common.Address) (*wallet.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[addr]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

// List returns copies of all wallet records.
func (m *MockWalletRegistry) List(_ context.Context) ([]*wallet.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*wallet.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// SetDesignated records beacon-to-wallet affinity.
func (m *MockWalletRegistry) SetDesignated(_ context.Context, beacon string, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.designated[beacon] = addr
	if w, ok := m.wallets[addr]; ok {
		w.DesignatedBeacons = append(w.DesignatedBeacons, beacon)
	}
	return nil
}

// DesignatedWallet returns the wallet designated for the beacon, if any.
func (m *MockWalletRegistry) DesignatedWallet(_ context.Context, beacon string) (common.Address, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.designated[beacon]
	return addr, ok, nil
}

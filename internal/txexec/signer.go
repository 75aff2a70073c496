// Package txexec is the transaction-orchestration core: nonce assignment,
// multi-endpoint submission with fallback, receipt confirmation, semantic
// event decoding, multicall batching, and sequential batch orchestration.
package txexec

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for a wallet identified by its signer reference.
// The local keyring implementation covers development and self-hosted pools;
// a remote signing service slots in behind the same interface.
type Signer interface {
	SignTx(ctx context.Context, signerRef string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// HashSigner signs a raw 32-byte digest, used for EIP-712 attestations
// where the contract verifies the signature itself.
type HashSigner interface {
	SignHash(ctx context.Context, signerRef string, hash common.Hash) ([]byte, error)
}

// LocalKeyring is a Signer over in-memory ECDSA keys, keyed by the wallet
// address in hex (lowercased).
type LocalKeyring struct {
	keys map[string]*ecdsa.PrivateKey
}

var (
	_ Signer     = (*LocalKeyring)(nil)
	_ HashSigner = (*LocalKeyring)(nil)
)

// NewLocalKeyring parses hex private keys and indexes them by address.
func NewLocalKeyring(hexKeys []string) (*LocalKeyring, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(hexKeys))
	for _, raw := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		keys[strings.ToLower(addr.Hex())] = key
	}
	return &LocalKeyring{keys: keys}, nil
}

// Addresses returns the wallet addresses held by the keyring.
func (k *LocalKeyring) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(k.keys))
	for hexAddr := range k.keys {
		addrs = append(addrs, common.HexToAddress(hexAddr))
	}
	return addrs
}

// SignTx implements Signer.
func (k *LocalKeyring) SignTx(_ context.Context, signerRef string, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, ok := k.keys[strings.ToLower(signerRef)]
	if !ok {
		return nil, fmt.Errorf("no key for signer ref %s", signerRef)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// SignHash implements HashSigner, returning a 65-byte r||s||v signature
// with v in {27, 28} as Solidity's ecrecover expects.
func (k *LocalKeyring) SignHash(_ context.Context, signerRef string, hash common.Hash) ([]byte, error) {
	key, ok := k.keys[strings.ToLower(signerRef)]
	if !ok {
		return nil, fmt.Errorf("no key for signer ref %s", signerRef)
	}
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

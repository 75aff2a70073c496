package chain

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNonceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"nonce too low", errors.New("nonce too low: address 0xabc"), true},
		{"nonce too high", errors.New("Nonce too HIGH"), true},
		{"replacement underpriced", errors.New("replacement transaction underpriced"), true},
		{"invalid nonce", errors.New("invalid nonce for sender"), true},
		{"unrelated", errors.New("insufficient funds for gas"), false},
		{"connection", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNonceError(tt.err))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("read tcp: i/o timeout"), true},
		{"bad gateway", errors.New("502 Bad Gateway"), true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"revert", errors.New("execution reverted"), false},
		{"nonce", errors.New("nonce too low"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}

func TestIsAlreadyKnown(t *testing.T) {
	assert.True(t, IsAlreadyKnown(errors.New("already known")))
	assert.True(t, IsAlreadyKnown(errors.New("known transaction: 0xdeadbeef")))
	assert.False(t, IsAlreadyKnown(errors.New("nonce too low")))
	assert.False(t, IsAlreadyKnown(nil))
}

func TestDecodeRevertErrorString(t *testing.T) {
	// Error("insufficient margin")
	reason := "insufficient margin"
	data, err := hex.DecodeString("08c379a0")
	require.NoError(t, err)
	data = append(data, make([]byte, 32)...)
	data[4+31] = 0x20 // offset
	lenWord := make([]byte, 32)
	lenWord[31] = byte(len(reason))
	data = append(data, lenWord...)
	padded := make([]byte, 32)
	copy(padded, reason)
	data = append(data, padded...)

	assert.Equal(t, reason, DecodeRevert(data))
}

func TestDecodeRevertCustomErrors(t *testing.T) {
	encodeBounds := func(selector string, lo, hi, actual int64) []byte {
		data, err := hex.DecodeString(selector)
		require.NoError(t, err)
		for _, v := range []int64{lo, hi, actual} {
			word := make([]byte, 32)
			big.NewInt(v).FillBytes(word)
			data = append(data, word...)
		}
		return data
	}

	t.Run("margin out of bounds", func(t *testing.T) {
		data := encodeBounds(selOpeningMarginOutOfBounds, 1_000_000, 100_000_000, 500)
		got := DecodeRevert(data)
		assert.Contains(t, got, "opening margin out of bounds")
		assert.Contains(t, got, "0.000500")
		assert.Contains(t, got, "1.000000")
	})

	t.Run("perp not found", func(t *testing.T) {
		data, err := hex.DecodeString(selPerpNotFound)
		require.NoError(t, err)
		assert.Equal(t, "perp does not exist", DecodeRevert(data))
	})

	t.Run("unknown selector", func(t *testing.T) {
		data := []byte{0xde, 0xad, 0xbe, 0xef}
		assert.Contains(t, DecodeRevert(data), "execution reverted: 0xdeadbeef")
	})

	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "execution reverted", DecodeRevert(nil))
	})
}

func TestRevertReasonFromError(t *testing.T) {
	t.Run("embedded hex data", func(t *testing.T) {
		err := errors.New("execution reverted: 0xd2aa461f")
		assert.Equal(t, "perp does not exist", RevertReasonFromError(err))
	})
	t.Run("plain message", func(t *testing.T) {
		err := errors.New("out of gas")
		assert.Equal(t, "out of gas", RevertReasonFromError(err))
	})
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, "", RevertReasonFromError(nil))
	})
}

func TestFormatX96(t *testing.T) {
	// 2 * 2^96 renders as 2.00
	v := new(big.Int).Lsh(big.NewInt(2), 96)
	assert.Equal(t, "2.00", formatX96(v))

	half := new(big.Int).Rsh(new(big.Int).Lsh(big.NewInt(1), 96), 1)
	assert.Equal(t, "0.50", formatX96(half))
}

package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// x96 is the fixed-point scaling factor used by the perp contracts for
// prices and ratios (2^96).
var x96 = new(big.Int).Lsh(big.NewInt(1), 96)

// usdcDecimals is the token precision used when rendering margin amounts.
const usdcDecimals = 6

// IsNonceError reports whether an RPC error indicates a nonce problem that
// can be resolved by refreshing the cached nonce and rebuilding.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"nonce too low",
		"nonce too high",
		"invalid nonce",
		"nonce is invalid",
		"nonce is too low",
		"replacement transaction underpriced",
		"replacement tx underpriced",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// IsAlreadyKnown reports whether the endpoint already has this exact
// transaction in its pool; treated as a successful submission.
func IsAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction")
}

// IsConnectionError reports whether an error is an endpoint/transport
// failure rather than a node-level rejection. Only these trigger fallback
// to the next endpoint.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"timeout awaiting response",
		"context deadline exceeded",
		"eof",
		"bad gateway",
		"service unavailable",
		"too many requests",
		"502",
		"503",
		"429",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// ===== Revert decoding =====

// Selector values for the perp contracts' custom errors.
const (
	selOpeningLeverageOutOfBounds = "239b350f"
	selOpeningMarginOutOfBounds   = "cd4916f9"
	selInvalidLiquidity           = "7e05cd27"
	selPerpNotFound               = "d2aa461f"
	selPerpAlreadyExists          = "2c328f64"
	selTickOutOfRange             = "24775e06"
	selInsufficientBalance        = "fb8f41b2"
)

// DecodeRevert turns raw revert data (or an RPC error message that embeds
// it) into a human-readable reason. Best effort: unknown data yields a
// generic "execution reverted" with the hex payload attached.
func DecodeRevert(data []byte) string {
	if len(data) == 0 {
		return "execution reverted"
	}
	if len(data) >= 4 {
		selector := hex.EncodeToString(data[:4])
		switch selector {
		case "08c379a0": // Error(string)
			if reason, ok := decodeErrorString(data[4:]); ok {
				return reason
			}
		case "4e487b71": // Panic(uint256)
			if len(data) >= 36 {
				code := new(big.Int).SetBytes(data[4:36])
				return fmt.Sprintf("panic code 0x%x", code)
			}
		case selOpeningLeverageOutOfBounds:
			if lo, hi, actual, ok := decodeTripleU256(data[4:]); ok {
				return fmt.Sprintf("opening leverage out of bounds: got %s, allowed [%s, %s]",
					formatX96(actual), formatX96(lo), formatX96(hi))
			}
			return "opening leverage out of bounds"
		case selOpeningMarginOutOfBounds:
			if lo, hi, actual, ok := decodeTripleU256(data[4:]); ok {
				return fmt.Sprintf("opening margin out of bounds: got %s USDC, allowed [%s, %s] USDC",
					formatUSDC(actual), formatUSDC(lo), formatUSDC(hi))
			}
			return "opening margin out of bounds"
		case selInvalidLiquidity:
			return "invalid liquidity for position"
		case selPerpNotFound:
			return "perp does not exist"
		case selPerpAlreadyExists:
			return "perp already exists"
		case selTickOutOfRange:
			return "tick out of range"
		case selInsufficientBalance:
			return "insufficient token balance"
		}
	}
	return fmt.Sprintf("execution reverted: 0x%s", hex.EncodeToString(data))
}

// RevertReasonFromError extracts a revert reason out of an RPC error whose
// message carries hex-encoded return data, falling back to the raw message.
func RevertReasonFromError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "0x"); idx >= 0 {
		hexPart := msg[idx+2:]
		if end := strings.IndexFunc(hexPart, func(r rune) bool {
			return !isHexDigit(r)
		}); end >= 0 {
			hexPart = hexPart[:end]
		}
		if len(hexPart) >= 8 && len(hexPart)%2 == 0 {
			if data, decodeErr := hex.DecodeString(hexPart); decodeErr == nil {
				return DecodeRevert(data)
			}
		}
	}
	return msg
}

// decodeErrorString decodes the ABI encoding of Error(string): offset,
// length, bytes.
func decodeErrorString(data []byte) (string, bool) {
	if len(data) < 64 {
		return "", false
	}
	length := new(big.Int).SetBytes(data[32:64])
	if !length.IsInt64() {
		return "", false
	}
	n := length.Int64()
	if int64(len(data)) < 64+n {
		return "", false
	}
	return string(data[64 : 64+n]), true
}

func decodeTripleU256(data []byte) (lo, hi, actual *big.Int, ok bool) {
	if len(data) < 96 {
		return nil, nil, nil, false
	}
	lo = new(big.Int).SetBytes(data[0:32])
	hi = new(big.Int).SetBytes(data[32:64])
	actual = new(big.Int).SetBytes(data[64:96])
	return lo, hi, actual, true
}

// formatX96 renders an X96 fixed-point value with two decimal places.
func formatX96(v *big.Int) string {
	scaled := new(big.Int).Mul(v, big.NewInt(100))
	scaled.Div(scaled, x96)
	whole := new(big.Int).Div(scaled, big.NewInt(100))
	frac := new(big.Int).Mod(scaled, big.NewInt(100))
	return fmt.Sprintf("%s.%02d", whole, frac.Int64())
}

// formatUSDC renders a 6-decimal token amount.
func formatUSDC(v *big.Int) string {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(usdcDecimals), nil)
	whole := new(big.Int).Div(v, divisor)
	frac := new(big.Int).Mod(v, divisor)
	return fmt.Sprintf("%s.%06d", whole, frac.Int64())
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

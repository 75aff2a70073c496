// Package perp deploys perpetual pools for beacons through the perp
// manager contract and provisions their initial maker liquidity.
package perp

import (
	"fmt"
	"math"
	"math/big"
)

// Q96 is the fixed-point scale used by the perp manager for leverage and
// fee ratios.
var q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// Config carries the pool parameters used when deploying a perp and the
// bounds enforced before depositing liquidity. The defaults mirror the
// deployed contract configuration on Base.
type Config struct {
	TradingFee             uint32
	MinMargin              *big.Int
	MaxMargin              *big.Int
	MinOpeningLeverageX96  *big.Int
	MaxOpeningLeverageX96  *big.Int
	LiquidationLeverageX96 *big.Int
	LiquidationFeeX96      *big.Int
	LiquidationFeeSplitX96 *big.Int
	FundingInterval        int64
	TickSpacing            int32
	StartingSqrtPriceX96   *big.Int

	// Liquidity position defaults.
	DefaultTickLower       int32
	DefaultTickUpper       int32
	LiquidityScalingFactor int64
	MaxMarginPerPerp       *big.Int
}

// DefaultConfig returns the production pool parameters.
func DefaultConfig() Config {
	return Config{
		TradingFee:             5000,
		MinMargin:              big.NewInt(0),
		MaxMargin:              big.NewInt(1_000_000_000),
		MinOpeningLeverageX96:  big.NewInt(0),
		MaxOpeningLeverageX96:  mustBig("790273926286361721684336819027"),
		LiquidationLeverageX96: mustBig("790273926286361721684336819027"),
		LiquidationFeeX96:      mustBig("790273926286361721684336819"),
		LiquidationFeeSplitX96: mustBig("39513699123034658136834084095"),
		FundingInterval:        86400,
		TickSpacing:            30,
		StartingSqrtPriceX96:   mustBig("560227709747861419891227623424"),
		DefaultTickLower:       24390,
		DefaultTickUpper:       53850,
		LiquidityScalingFactor: 500_000,
		MaxMarginPerPerp:       big.NewInt(1_000_000_000),
	}
}

// minimumMarginUSDC is the floor for deposit margins, 10 USDC in 6
// decimals. Smaller positions round to liquidity amounts the pool rejects.
var minimumMarginUSDC = big.NewInt(10_000_000)

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MinMargin == nil || c.MaxMargin == nil || c.MinOpeningLeverageX96 == nil ||
		c.MaxOpeningLeverageX96 == nil || c.LiquidationLeverageX96 == nil ||
		c.LiquidationFeeX96 == nil || c.LiquidationFeeSplitX96 == nil ||
		c.StartingSqrtPriceX96 == nil || c.MaxMarginPerPerp == nil {
		return fmt.Errorf("perp config has nil parameters")
	}
	if c.MinMargin.Cmp(c.MaxMargin) > 0 {
		return fmt.Errorf("invalid margin bounds: min %s > max %s", c.MinMargin, c.MaxMargin)
	}
	if c.MinOpeningLeverageX96.Cmp(c.MaxOpeningLeverageX96) > 0 {
		return fmt.Errorf("invalid leverage bounds: min %s > max %s",
			c.MinOpeningLeverageX96, c.MaxOpeningLeverageX96)
	}
	if c.TickSpacing <= 0 {
		return fmt.Errorf("tick spacing must be positive, got %d", c.TickSpacing)
	}
	if c.LiquidityScalingFactor <= 0 {
		return fmt.Errorf("liquidity scaling factor must be positive, got %d", c.LiquidityScalingFactor)
	}
	if err := c.validateTicks(c.DefaultTickLower, c.DefaultTickUpper); err != nil {
		return err
	}
	return nil
}

func (c Config) validateTicks(lower, upper int32) error {
	if lower%c.TickSpacing != 0 {
		return fmt.Errorf("tick lower %d not divisible by tick spacing %d", lower, c.TickSpacing)
	}
	if upper%c.TickSpacing != 0 {
		return fmt.Errorf("tick upper %d not divisible by tick spacing %d", upper, c.TickSpacing)
	}
	if lower >= upper {
		return fmt.Errorf("tick lower %d must be below tick upper %d", lower, upper)
	}
	return nil
}

// ExpectedLeverage approximates the opening leverage a maker position with
// the given margin produces. Calibrated so a 10 USDC position opens near
// 10x, decaying with the square root of larger margins.
func (c Config) ExpectedLeverage(marginUSDC *big.Int) (float64, error) {
	if marginUSDC == nil || marginUSDC.Sign() <= 0 {
		return 0, fmt.Errorf("margin must be positive")
	}
	margin, _ := new(big.Float).SetInt(marginUSDC).Float64()
	ratio := margin / 10_000_000.0
	leverage := 10.0 / math.Sqrt(ratio)
	if leverage < 0.1 {
		leverage = 0.1
	}
	if leverage > 9.97 {
		leverage = 9.97
	}
	return leverage, nil
}

// ValidateMargin enforces the margin floor, the per-perp ceiling, and the
// opening leverage window for a deposit.
func (c Config) ValidateMargin(marginUSDC *big.Int) error {
	if marginUSDC == nil || marginUSDC.Sign() <= 0 {
		return fmt.Errorf("margin must be positive")
	}
	if marginUSDC.Cmp(minimumMarginUSDC) < 0 {
		return fmt.Errorf("margin %s below minimum %s USDC", usdcString(marginUSDC), usdcString(minimumMarginUSDC))
	}
	if marginUSDC.Cmp(c.MaxMarginPerPerp) > 0 {
		return fmt.Errorf("margin %s exceeds per-perp maximum %s USDC",
			usdcString(marginUSDC), usdcString(c.MaxMarginPerPerp))
	}

	leverage, err := c.ExpectedLeverage(marginUSDC)
	if err != nil {
		return err
	}
	maxLeverage := x96ToFloat(c.MaxOpeningLeverageX96)
	if leverage > maxLeverage {
		return fmt.Errorf("expected leverage %.2fx exceeds maximum %.2fx", leverage, maxLeverage)
	}
	if c.MinOpeningLeverageX96.Sign() > 0 {
		minLeverage := x96ToFloat(c.MinOpeningLeverageX96)
		if leverage < minLeverage {
			return fmt.Errorf("expected leverage %.2fx below minimum %.2fx", leverage, minLeverage)
		}
	}
	return nil
}

// LiquidityForMargin converts a 6-decimal USDC margin into the liquidity
// amount passed to openMakerPos.
func (c Config) LiquidityForMargin(marginUSDC *big.Int) *big.Int {
	return new(big.Int).Mul(marginUSDC, big.NewInt(c.LiquidityScalingFactor))
}

func x96ToFloat(v *big.Int) float64 {
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(v), q96).Float64()
	return out
}

// usdcString renders a 6-decimal USDC amount as a decimal string.
func usdcString(v *big.Int) string {
	whole, frac := new(big.Int).DivMod(v, big.NewInt(1_000_000), new(big.Int))
	return fmt.Sprintf("%s.%06d", whole, frac.Int64())
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(fmt.Sprintf("invalid big integer constant %q", s))
	}
	return v
}

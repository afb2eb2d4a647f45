package lending

import (
	"fmt"
	"time"
)

// Params captures the pool's risk policy. Ratios are basis points.
type Params struct {
	// BaseLTVBps is the borrow ceiling for a zero score.
	BaseLTVBps uint64
	// LiquidationThresholdBps must sit strictly above the highest
	// score-boosted borrow ceiling so fresh borrows are never liquidatable.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the collateral premium paid to liquidators.
	LiquidationBonusBps uint64
	// MaxPriceAge rejects checks against older prices. Zero disables the check.
	MaxPriceAge time.Duration
}

// DefaultParams mirrors the reference deployment: 50% base LTV, 55%
// liquidation threshold and a 5% liquidation bonus.
func DefaultParams() Params {
	return Params{
		BaseLTVBps:              5_000,
		LiquidationThresholdBps: 5_500,
		LiquidationBonusBps:     500,
	}
}

// Validate checks the policy against the largest boost the score engine can
// grant on top of BaseLTVBps.
func (p Params) Validate(maxBoostBps uint64) error {
	if p.BaseLTVBps == 0 {
		return fmt.Errorf("lending: base LTV must be positive")
	}
	if p.LiquidationThresholdBps > 10_000 {
		return fmt.Errorf("lending: liquidation threshold %d exceeds 10000 bps", p.LiquidationThresholdBps)
	}
	if ceiling := p.BaseLTVBps + maxBoostBps; ceiling >= p.LiquidationThresholdBps {
		return fmt.Errorf("lending: liquidation threshold %d must exceed max borrow LTV %d", p.LiquidationThresholdBps, ceiling)
	}
	if p.LiquidationBonusBps > 10_000 {
		return fmt.Errorf("lending: liquidation bonus %d exceeds 10000 bps", p.LiquidationBonusBps)
	}
	if p.MaxPriceAge < 0 {
		return fmt.Errorf("lending: max price age must not be negative")
	}
	return nil
}

package occr

import "fmt"

const (
	// DefaultMaxScoreMicro is score 1.0 expressed in micro units.
	DefaultMaxScoreMicro uint64 = 1_000_000
	// DefaultMaxRiskMicro is the risk ceiling used by score-gated predicates
	// when the caller does not supply one.
	DefaultMaxRiskMicro uint64 = 350_000
	basisPoints          uint64 = 10_000
)

// Params tunes the score curve. All ratios are basis points.
//
// The score moves toward MaxScoreMicro by a fraction of the remaining gap on
// borrow and repay, so it saturates and never overshoots. Liquidation removes
// a fraction of the current score; the default of zero keeps liquidation
// neutral for the borrower's reputation.
type Params struct {
	MaxScoreMicro         uint64
	MaxLTVBoostBps        uint64
	BorrowCreditBps       uint64
	RepayCreditBps        uint64
	LiquidationPenaltyBps uint64
}

// DefaultParams returns the curve used when configuration leaves fields unset.
func DefaultParams() Params {
	return Params{
		MaxScoreMicro:         DefaultMaxScoreMicro,
		MaxLTVBoostBps:        400,
		BorrowCreditBps:       100,
		RepayCreditBps:        2_000,
		LiquidationPenaltyBps: 0,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.MaxScoreMicro == 0 {
		return fmt.Errorf("occr: max score must be positive")
	}
	if p.MaxLTVBoostBps > basisPoints {
		return fmt.Errorf("occr: max LTV boost %d exceeds 10000 bps", p.MaxLTVBoostBps)
	}
	checks := []struct {
		name  string
		value uint64
	}{
		{"borrow credit", p.BorrowCreditBps},
		{"repay credit", p.RepayCreditBps},
		{"liquidation penalty", p.LiquidationPenaltyBps},
	}
	for _, check := range checks {
		if check.value > basisPoints {
			return fmt.Errorf("occr: %s %d exceeds 10000 bps", check.name, check.value)
		}
	}
	return nil
}

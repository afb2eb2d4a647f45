package config

import (
	"log/slog"
	"time"

	"occrlend/core"
	"occrlend/crypto"
	nativecommon "occrlend/native/common"
	"occrlend/native/lending"
	"occrlend/native/occr"
)

func (c *Config) LendingParams() lending.Params {
	return lending.Params{
		BaseLTVBps:              c.Pool.BaseLTVBps,
		LiquidationThresholdBps: c.Pool.LiquidationThresholdBps,
		LiquidationBonusBps:     c.Pool.LiquidationBonusBps,
		MaxPriceAge:             time.Duration(c.Pool.MaxPriceAgeSeconds) * time.Second,
	}
}

func (c *Config) ScoreParams() occr.Params {
	return occr.Params{
		MaxScoreMicro:         c.Score.MaxScoreMicro,
		MaxLTVBoostBps:        c.Score.MaxLTVBoostBps,
		BorrowCreditBps:       c.Score.BorrowCreditBps,
		RepayCreditBps:        c.Score.RepayCreditBps,
		LiquidationPenaltyBps: c.Score.LiquidationPenaltyBps,
	}
}

// PauseView translates the [pauses] table into the flags checked by the
// lending engine.
func (c *Config) PauseView() nativecommon.StaticPauses {
	p := c.Pauses
	flags := []struct {
		key string
		on  bool
	}{
		{"lending", p.Lending},
		{"lending." + lending.ActionDeposit, p.Deposit},
		{"lending." + lending.ActionWithdraw, p.Withdraw},
		{"lending." + lending.ActionBorrow, p.Borrow},
		{"lending." + lending.ActionRepay, p.Repay},
		{"lending." + lending.ActionBuffer, p.Buffer},
		{"lending." + lending.ActionLiquidate, p.Liquidate},
	}
	out := nativecommon.StaticPauses{}
	for _, f := range flags {
		if f.on {
			out[f.key] = true
		}
	}
	return out
}

// NodeOptions builds the core node options described by the configuration.
func (c *Config) NodeOptions(logger *slog.Logger, observer core.OperationObserver) (core.Options, error) {
	if err := c.Validate(); err != nil {
		return core.Options{}, err
	}
	admin, err := crypto.ParseAddress(c.Admin)
	if err != nil {
		return core.Options{}, err
	}
	return core.Options{
		Admin:      admin,
		Collateral: core.AssetSpec{Symbol: c.Collateral.Symbol, Name: c.Collateral.Name, Decimals: c.Collateral.Decimals},
		Debt:       core.AssetSpec{Symbol: c.Debt.Symbol, Name: c.Debt.Name, Decimals: c.Debt.Decimals},
		Lending:    c.LendingParams(),
		Score:      c.ScoreParams(),
		Pauses:     c.PauseView(),
		Logger:     logger,
		Observer:   observer,
	}, nil
}

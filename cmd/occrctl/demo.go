package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	nodeconfig "occrlend/config"
	"occrlend/core"
	"occrlend/storage"
)

var (
	demoAdmin      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	demoBorrower   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	demoLiquidator = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	wad            = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a borrow, repay and liquidation walkthrough on an in-memory pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runDemo(cmd.Context(), cmd.OutOrStdout())
			return err
		},
	}
}

type demoStep struct {
	Label      string
	Price      string
	Collateral string
	Debt       string
	ScoreMicro uint64
	MaxLTVBps  uint64
	Underwater bool
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

// runDemo drives one borrower through deposit, borrow, repay, a price drop
// and a partial liquidation, rendering the account after each step.
func runDemo(ctx context.Context, out io.Writer) ([]demoStep, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := nodeconfig.Default()
	cfg.Admin = demoAdmin.Hex()
	opts, err := cfg.NodeOptions(nil, nil)
	if err != nil {
		return nil, err
	}
	clock := time.Unix(1_700_000_000, 0)
	opts.Now = func() time.Time { return clock }
	node, err := core.NewNode(storage.NewMemDB(), opts)
	if err != nil {
		return nil, err
	}
	defer node.Close()

	col, debt := node.CollateralSymbol(), node.DebtSymbol()
	var steps []demoStep
	record := func(label string) error {
		acct, err := node.Account(demoBorrower)
		if err != nil {
			return err
		}
		price, err := node.Price()
		if err != nil {
			return err
		}
		step := demoStep{
			Label:      label,
			Price:      "0",
			Collateral: acct.Position.Collateral.String(),
			Debt:       acct.Position.Debt.String(),
			ScoreMicro: acct.ScoreMicro,
			MaxLTVBps:  acct.MaxLTVBps,
			Underwater: acct.Underwater,
		}
		if price != nil && price.Price != nil {
			step.Price = price.Price.String()
		}
		steps = append(steps, step)
		return nil
	}

	actions := []struct {
		label string
		run   func() error
	}{
		{"seed pool and accounts", func() error {
			if err := node.Mint(ctx, demoAdmin, debt, node.PoolAddress(), units(1_000_000)); err != nil {
				return err
			}
			if err := node.Mint(ctx, demoAdmin, col, demoBorrower, units(1)); err != nil {
				return err
			}
			if err := node.Mint(ctx, demoAdmin, debt, demoLiquidator, units(1_000)); err != nil {
				return err
			}
			for _, approval := range []struct {
				owner  common.Address
				symbol string
			}{{demoBorrower, col}, {demoBorrower, debt}, {demoLiquidator, debt}} {
				if err := node.ApprovePool(ctx, approval.owner, approval.symbol, units(1_000_000)); err != nil {
					return err
				}
			}
			return node.SetPrice(ctx, demoAdmin, units(2_000))
		}},
		{"verify identity", func() error { return node.VerifyIdentity(ctx, demoBorrower, []byte("demo-kyc")) }},
		{"deposit 1 collateral", func() error { return node.Deposit(ctx, demoBorrower, units(1)) }},
		{"borrow 1,000", func() error { return node.Borrow(ctx, demoBorrower, units(1_000)) }},
		{"repay 400", func() error {
			_, err := node.Repay(ctx, demoBorrower, units(400))
			return err
		}},
		{"price drops to 1,000", func() error { return node.SetPrice(ctx, demoAdmin, units(1_000)) }},
		{"liquidate 100", func() error {
			_, err := node.Liquidate(ctx, demoLiquidator, demoBorrower, units(100))
			return err
		}},
	}
	for _, action := range actions {
		if err := action.run(); err != nil {
			return steps, fmt.Errorf("%s: %w", action.label, err)
		}
		if err := record(action.label); err != nil {
			return steps, err
		}
	}

	headerStyle.Fprintf(out, "Borrower %s\n", addressStyle.Sprint(demoBorrower.Hex()))
	t := newTable(out, "Step", "Price", "Collateral", "Debt", "Score", "Max LTV", "Health")
	t.SetColumnConfigs(rightAligned(2, 3, 4, 5, 6))
	for _, step := range steps {
		t.AppendRow(table.Row{
			step.Label,
			formatUnits(step.Price),
			formatUnits(step.Collateral),
			formatUnits(step.Debt),
			formatScore(step.ScoreMicro),
			formatBps(step.MaxLTVBps),
			healthLabel(step.Underwater),
		})
	}
	t.Render()
	seized, err := node.Balance(col, demoLiquidator)
	if err != nil {
		return steps, err
	}
	fmt.Fprintf(out, "liquidator seized %s %s\n", formatUnits(seized.String()), col)
	return steps, nil
}

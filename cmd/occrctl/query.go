package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"occrlend/services/lending/client"
)

func newMarketCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show pool totals, risk parameters and the current price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			market, err := c.Market(ctx)
			if err != nil {
				return err
			}
			price, err := c.Price(ctx)
			if err != nil {
				return err
			}
			renderMarket(cmd, market, price)
			return nil
		},
	}
}

func renderMarket(cmd *cobra.Command, market *client.Market, price *client.Price) {
	out := cmd.OutOrStdout()
	headerStyle.Fprintf(out, "Pool %s\n", addressStyle.Sprint(market.Pool))
	t := newTable(out, "Metric", "Value")
	t.SetColumnConfigs(rightAligned(2))
	t.AppendRows([]table.Row{
		{"Collateral asset", market.CollateralAsset},
		{"Debt asset", market.DebtAsset},
		{"Total collateral", formatUnits(market.TotalCollateral)},
		{"Total debt", formatUnits(market.TotalDebt)},
		{"Total buffer", formatUnits(market.TotalBuffer)},
		{"Liquidity", formatUnits(market.Liquidity)},
		{"Base LTV", formatBps(market.BaseLTVBps)},
		{"Liquidation threshold", formatBps(market.ThresholdBps)},
		{"Liquidation bonus", formatBps(market.BonusBps)},
	})
	if price != nil {
		updated := "never"
		if price.UpdatedAt > 0 {
			updated = time.Unix(int64(price.UpdatedAt), 0).UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{"Price", formatUnits(price.Price)})
		t.AppendRow(table.Row{"Price updated", timestampStyle.Sprint(updated)})
	}
	t.Render()
}

func newAccountCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "Show one borrower's position, score and borrowing headroom",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			acct, err := c.Account(ctx, args[0])
			if err != nil {
				return err
			}
			renderAccounts(cmd, []client.Account{*acct})
			return nil
		},
	}
}

func newAccountsCmd(flags *globalFlags) *cobra.Command {
	var underwater bool
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List every open position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			accounts, err := c.Accounts(ctx, underwater)
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No positions found")
				return nil
			}
			renderAccounts(cmd, accounts)
			return nil
		},
	}
	cmd.Flags().BoolVar(&underwater, "underwater", false, "only list positions eligible for liquidation")
	return cmd
}

func renderAccounts(cmd *cobra.Command, accounts []client.Account) {
	t := newTable(cmd.OutOrStdout(), "Address", "Collateral", "Debt", "Buffer", "Score", "Max LTV", "Headroom", "Health")
	t.SetColumnConfigs(rightAligned(2, 3, 4, 5, 6, 7))
	for _, acct := range accounts {
		t.AppendRow(table.Row{
			addressStyle.Sprint(acct.Address),
			formatUnits(acct.Position.Collateral),
			formatUnits(acct.Position.Debt),
			formatUnits(acct.Position.Buffer),
			formatScore(acct.ScoreMicro),
			formatBps(acct.MaxLTVBps),
			formatUnits(acct.MaxBorrowable),
			healthLabel(acct.Underwater),
		})
	}
	t.Render()
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		account   string
		eventType string
		after     uint64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page through the indexed event history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			evts, err := c.History(ctx, account, eventType, after, limit)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "ID", "Event", "Account", "At", "Attributes")
			for _, evt := range evts {
				t.AppendRow(table.Row{
					strconv.FormatUint(evt.ID, 10),
					eventTitle(evt.Type),
					addressStyle.Sprint(evt.Account),
					timestampStyle.Sprint(evt.CreatedAt.UTC().Format(time.RFC3339)),
					attributeSummary(evt.Attributes),
				})
			}
			t.Render()
			if len(evts) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "next page: --after %d\n", evts[len(evts)-1].ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "filter by account address")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().Uint64Var(&after, "after", 0, "return events after this id")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	return cmd
}

func attributeSummary(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "account" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}

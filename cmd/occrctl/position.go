package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	nativecommon "occrlend/native/common"
	"occrlend/services/lending/client"
)

type amountCall func(c *client.Client, ctx context.Context, amount *big.Int) (*client.Result, error)

func newPositionCmds(flags *globalFlags) []*cobra.Command {
	simple := []struct {
		use   string
		short string
		call  amountCall
	}{
		{"deposit", "Deposit collateral into the pool", (*client.Client).Deposit},
		{"withdraw", "Withdraw collateral while staying within the LTV", (*client.Client).Withdraw},
		{"borrow", "Borrow debt tokens against collateral", (*client.Client).Borrow},
		{"repay", "Repay outstanding debt", (*client.Client).Repay},
		{"buffer-deposit", "Add debt tokens to the protection buffer", (*client.Client).DepositBuffer},
		{"buffer-withdraw", "Withdraw from the protection buffer", (*client.Client).WithdrawBuffer},
		{"buffer-repay", "Repay debt from the protection buffer", (*client.Client).RepayFromBuffer},
	}
	cmds := make([]*cobra.Command, 0, len(simple)+5)
	for _, entry := range simple {
		call := entry.call
		cmds = append(cmds, &cobra.Command{
			Use:   entry.use + " <amount>",
			Short: entry.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := nativecommon.ParseAmount(args[0])
				if err != nil {
					return err
				}
				return withClient(cmd, flags, func(ctx context.Context, c *client.Client) (*client.Result, error) {
					return call(c, ctx, amount)
				})
			},
		})
	}

	cmds = append(cmds,
		&cobra.Command{
			Use:   "repay-for <borrower> <amount>",
			Short: "Repay another borrower's debt",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := nativecommon.ParseAmount(args[1])
				if err != nil {
					return err
				}
				return withClient(cmd, flags, func(ctx context.Context, c *client.Client) (*client.Result, error) {
					return c.RepayOnBehalf(ctx, args[0], amount)
				})
			},
		},
		&cobra.Command{
			Use:   "protect <borrower>",
			Short: "Spend the borrower's buffer to restore a healthy position",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClient(cmd, flags, func(ctx context.Context, c *client.Client) (*client.Result, error) {
					return c.Protect(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "liquidate <borrower> <repay-amount>",
			Short: "Repay an underwater borrower's debt and seize collateral at a bonus",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := nativecommon.ParseAmount(args[1])
				if err != nil {
					return err
				}
				return withClient(cmd, flags, func(ctx context.Context, c *client.Client) (*client.Result, error) {
					return c.Liquidate(ctx, args[0], amount)
				})
			},
		},
		&cobra.Command{
			Use:   "verify <proof-hex>",
			Short: "Submit an identity proof for the authenticated caller",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := flags.client()
				if err != nil {
					return err
				}
				ctx, cancel := commandContext(cmd)
				defer cancel()
				if err := c.Verify(ctx, args[0]); err != nil {
					return err
				}
				okStyle.Fprintln(cmd.OutOrStdout(), "identity verified")
				return nil
			},
		},
		&cobra.Command{
			Use:   "approve <asset> <amount>",
			Short: "Approve the pool to pull the caller's tokens",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := nativecommon.ParseAmount(args[1])
				if err != nil {
					return err
				}
				c, err := flags.client()
				if err != nil {
					return err
				}
				ctx, cancel := commandContext(cmd)
				defer cancel()
				if err := c.ApprovePool(ctx, args[0], amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "approved %s %s\n", formatUnits(amount.String()), args[0])
				return nil
			},
		},
	)
	return cmds
}

func withClient(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, c *client.Client) (*client.Result, error)) error {
	c, err := flags.client()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	res, err := fn(ctx, c)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if res.Applied != "" {
		fmt.Fprintf(out, "applied: %s\n", formatUnits(res.Applied))
	}
	if res.Seized != "" {
		fmt.Fprintf(out, "seized:  %s\n", formatUnits(res.Seized))
	}
	renderAccounts(cmd, []client.Account{res.Account})
	return nil
}

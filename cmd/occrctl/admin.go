package main

import (
	"fmt"

	"github.com/spf13/cobra"

	nativecommon "occrlend/native/common"
)

func newAdminCmd(flags *globalFlags) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative calls; the token subject must be the pool admin",
	}
	admin.AddCommand(
		&cobra.Command{
			Use:   "set-price <price-wad>",
			Short: "Publish the collateral price in debt units scaled by 1e18",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				price, err := nativecommon.ParseAmount(args[0])
				if err != nil {
					return err
				}
				c, err := flags.client()
				if err != nil {
					return err
				}
				ctx, cancel := commandContext(cmd)
				defer cancel()
				rec, err := c.SetPrice(ctx, price)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "price set to %s by %s\n", formatUnits(rec.Price), addressStyle.Sprint(rec.UpdatedBy))
				return nil
			},
		},
		&cobra.Command{
			Use:   "mint <asset> <to> <amount>",
			Short: "Mint pool tokens to an address",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := nativecommon.ParseAmount(args[2])
				if err != nil {
					return err
				}
				c, err := flags.client()
				if err != nil {
					return err
				}
				ctx, cancel := commandContext(cmd)
				defer cancel()
				if err := c.Mint(ctx, args[0], args[1], amount); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "minted %s %s to %s\n", formatUnits(amount.String()), args[0], addressStyle.Sprint(args[1]))
				return nil
			},
		},
	)
	return admin
}

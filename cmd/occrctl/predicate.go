package main

import (
	"fmt"

	"github.com/spf13/cobra"

	nativecommon "occrlend/native/common"
	"occrlend/services/lending/client"
)

func newPredicateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predicate",
		Short: "Evaluate score and price predicates against the live pool",
	}
	cmd.AddCommand(newRiskPredicateCmd(flags), newPricePredicateCmd(flags))
	return cmd
}

func newRiskPredicateCmd(flags *globalFlags) *cobra.Command {
	var maxRisk uint64
	cmd := &cobra.Command{
		Use:   "risk <address>",
		Short: "Check that an account's risk (1 - score) is within a ceiling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			res, err := c.RiskWithin(ctx, args[0], maxRisk)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s risk %s / max %s: %s\n",
				addressStyle.Sprint(res.Address), formatScore(res.RiskMicro), formatScore(res.MaxRiskMicro), holdsLabel(res.Holds))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&maxRisk, "max", 0, "risk ceiling in micro units (server default when zero)")
	return cmd
}

func newPricePredicateCmd(flags *globalFlags) *cobra.Command {
	var lte, gte string
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Compare the pool price against a threshold (stop-loss style)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (lte == "") == (gte == "") {
				return fmt.Errorf("exactly one of --lte or --gte is required")
			}
			c, err := flags.client()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			check, raw := c.PriceAtOrBelow, lte
			if gte != "" {
				check, raw = c.PriceAtOrAbove, gte
			}
			threshold, err := nativecommon.ParseAmount(raw)
			if err != nil {
				return err
			}
			res, err := check(ctx, threshold)
			if err != nil {
				return err
			}
			renderPricePredicate(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&lte, "lte", "", "holds when price <= threshold (18-decimal wad)")
	cmd.Flags().StringVar(&gte, "gte", "", "holds when price >= threshold (18-decimal wad)")
	return cmd
}

func renderPricePredicate(cmd *cobra.Command, res *client.PricePredicate) {
	fmt.Fprintf(cmd.OutOrStdout(), "price %s %s %s: %s\n",
		formatUnits(res.Price), res.Op, formatUnits(res.Threshold), holdsLabel(res.Holds))
}

func holdsLabel(holds bool) string {
	if holds {
		return okStyle.Sprint("holds")
	}
	return warnStyle.Sprint("does not hold")
}

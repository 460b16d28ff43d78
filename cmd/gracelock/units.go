package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/presets"
)

func newUnitsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Manage the units of measure used to estimate units",
	}

	open := func(cmd *cobra.Command) (*presets.Stack, error) {
		return presets.FromConfig(cmd.Context(), a.cfg, a.logger)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <product>",
		Short: "Print the unit of measure of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := open(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()
			uom, err := stack.Lookup.UnitOfMeasure(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\n", args[0], uom)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <product> <uom>",
		Short: "Store the unit of measure of a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := identity.Require(a.cfg.Identity.TierLevel().CanImport(), "set units"); err != nil {
				return err
			}
			uom, err := strconv.ParseFloat(args[1], 64)
			if err != nil || uom <= 0 {
				return fmt.Errorf("uom %q must be a positive number", args[1])
			}
			stack, err := open(cmd)
			if err != nil {
				return err
			}
			defer stack.Close()
			return stack.SetUnit(cmd.Context(), args[0], uom)
		},
	})
	return cmd
}

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

func newLocksCmd(a *app) *cobra.Command {
	var (
		search string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "locks [record-id]",
		Short: "List locked cells and running grace windows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, tr, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			page, err := tr.LoadPage(ctx, adapter.Filter{Search: search}, adapter.Range{})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROW\tRECORD\tFIELD\tSTATE\tTOOLTIP")
			for _, r := range page.Records {
				if len(args) == 1 && r.ID != args[0] {
					continue
				}
				row := "dup"
				if n, ok := page.Numbers[r.ID]; ok {
					row = fmt.Sprint(n)
				}
				for _, f := range record.Fields {
					c := viewCell(ctx, tr, r, f)
					if c.State == cellOpen && !all {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", row, r.ID, f, c.State, c.Tooltip)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only rows matching this text")
	cmd.Flags().BoolVar(&all, "all", false, "include cells that were never committed")
	return cmd
}

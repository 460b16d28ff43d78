package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-gracelock/v1/audit"
)

func newAuditCmd(a *app) *cobra.Command {
	var (
		action string
		user   string
		page   int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Browse the audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, tr, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			if page < 1 {
				page = 1
			}
			res, err := tr.AuditLog(ctx, audit.Query{
				Action: audit.ActionType(action),
				User:   user,
				Offset: (page - 1) * audit.DefaultPageSize,
				Limit:  audit.DefaultPageSize,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tUSER\tACTION\tDETAILS")
			for _, e := range res.Entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.User, e.ActionType, audit.Describe(e))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			pages := (res.Total + audit.DefaultPageSize - 1) / audit.DefaultPageSize
			fmt.Fprintf(out, "page %d of %d (%d entries)\n", page, max(pages, 1), res.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "only this action type, e.g. EDIT")
	cmd.Flags().StringVar(&user, "user-filter", "", "only users whose email contains this text")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

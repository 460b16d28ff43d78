package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-gracelock/v1/confirm"
	"github.com/mirkobrombin/go-gracelock/v1/grace"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

func newEditCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "edit <record-id> <field> <value>",
		Short: "Change a cell after three confirmations",
		Long: `edit proposes a new value for a cell and asks for the three confirmations
the dashboard asks for. The committed cell stays editable for the grace
window; a running serve session locks it once the window is over.

Weight edits also store the estimated units derived from the row product.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			field, err := record.ParseField(args[1])
			if err != nil {
				return err
			}
			_, tr, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			st, err := tr.BeginEdit(ctx, args[0], field, args[2])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if d := st.Pending.Derived; d != nil {
				fmt.Fprintf(out, "Estimated units will become %g\n", *d)
			}
			answers := bufio.NewScanner(cmd.InOrStdin())
			for st.Step != confirm.Idle {
				p, _ := st.Step.Prompt()
				if !yes && !ask(out, answers, p) {
					if _, err := tr.Cancel(); err != nil {
						return err
					}
					fmt.Fprintln(out, "Edit discarded.")
					return nil
				}
				if st, err = tr.Affirm(ctx); err != nil {
					return err
				}
			}

			secs, _ := tr.Countdown(args[0], field)
			fmt.Fprintf(out, "Saved %s. Editable for %s.\n", field, grace.FormatCountdown(secs))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "answer yes to every confirmation")
	return cmd
}

// ask shows a confirmation prompt and reads a yes or no answer. Anything
// but an explicit yes, including end of input, is a no.
func ask(w io.Writer, in *bufio.Scanner, p confirm.Prompt) bool {
	fmt.Fprintf(w, "%s %s [y/N] ", p.Title, p.Message)
	if !in.Scan() {
		fmt.Fprintln(w)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(in.Text())) {
	case "y", "yes":
		return true
	}
	return false
}

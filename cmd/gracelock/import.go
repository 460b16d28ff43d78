package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-gracelock/v1/core"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

func newImportCmd(a *app) *cobra.Command {
	var lockCells bool
	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Store the rows of a spreadsheet export",
		Long: `import reads a CSV export whose header row names tracker columns, e.g.
"Product", "Packaged Date" or "wt". Unknown columns are ignored. Every row
becomes a new record; with --lock every filled cell is committed and starts
its grace window.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := readRows(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			_, tr, closeFn, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			stored, err := tr.Import(ctx, core.ImportBatch{
				FileName: filepath.Base(args[0]),
				Rows:     rows,
				Lock:     lockCells,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows from %s.\n", len(stored), filepath.Base(args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&lockCells, "lock", false, "commit every filled cell on import")
	return cmd
}

// readRows maps CSV records onto tracker fields using the header row.
func readRows(r io.Reader) ([]map[record.Field]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	headers, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: %w", gerrors.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	mapping, err := record.MapHeaders(headers)
	if err != nil {
		return nil, err
	}

	var rows []map[record.Field]any
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		row := make(map[record.Field]any, len(mapping))
		for i, h := range headers {
			field, ok := mapping[h]
			if !ok || i >= len(rec) || rec[i] == "" {
				continue
			}
			row[field] = rec[i]
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
}

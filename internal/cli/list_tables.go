package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListTablesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list-tables",
		Short: "Show tables and their row counts",
		Long: `Prints the row count of every table in database.tables, or of every user
table when that list is empty. A table that cannot be counted is reported
and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			tables := cfg.Database.Tables
			if len(tables) == 0 {
				if tables, err = a.Store.ListTables(ctx); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for _, name := range tables {
				n, err := a.Store.CountRows(ctx, name)
				if err != nil {
					fmt.Fprintf(out, "%s: error: %v\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%s: %d rows\n", name, n)
			}
			return nil
		},
	}
}

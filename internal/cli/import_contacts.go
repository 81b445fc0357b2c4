package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportContactsCmd(opts *rootOptions) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "import-contacts",
		Short: "Import contacts from the dialogs endpoint",
		Long: `Fetches the dialog list, keeps one entry per chat and upserts the contacts
in batches. The import stops at the first failed batch; earlier batches
stay committed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if table == "" {
				table = cfg.Contacts.Table
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			res, err := a.ImportContacts(ctx, table)
			if res != nil {
				fmt.Fprintf(out, "Imported %d of %d unique contacts into %s in %d batches\n",
					res.Committed, res.Unique, table, len(res.Batches))
			}
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			total, err := a.Store.CountRows(ctx, table)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Total rows in %s: %d\n", table, total)
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "target table (default contacts.table)")
	return cmd
}

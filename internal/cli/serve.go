package cli

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, change feed, scheduler and Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cfg, log, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info("Starting lifetracker", "addr", cfg.Server.Addr, "table", cfg.Contacts.Table)
			return a.Serve(cmd.Context())
		},
	}
}

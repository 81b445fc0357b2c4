// Package cli implements the lifetracker command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edgard/lifetracker/internal/app"
	"github.com/edgard/lifetracker/internal/config"
	"github.com/edgard/lifetracker/internal/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "lifetracker",
		Short: "Import Telegram contacts and analyze their conversations",
		Long: `lifetracker keeps a table of Telegram contacts in SQLite, imports them
from the userbot dialogs endpoint and analyzes chat histories with an LLM.
Changes are pushed to websocket subscribers and the admin Telegram chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default ./config.yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newListTablesCmd(opts),
		newImportContactsCmd(opts),
		newAnalyzeCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// Execute runs the command line with os.Args and returns the exit code.
func Execute(ctx context.Context) int {
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// load reads the configuration and builds a logger writing to stderr.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	log := logger.New(cmd.ErrOrStderr(), level, cfg.Log.JSON)
	return cfg, log, nil
}

// open loads the configuration and builds the shared components.
// The caller must Close the returned App.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, *config.Config, *slog.Logger, error) {
	cfg, log, err := o.load(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, cfg, log, nil
}

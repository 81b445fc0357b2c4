// Package main contains the entrypoint for the lifetracker command.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgard/lifetracker/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}

package main // Entry point package

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "songsvc",
		Usage: "CRUD HTTP service for the songs collection",
		Commands: []*cli.Command{
			serveCommand(),
			seedCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		newLogger("info").Fatal("songsvc failed", "err", err)
	}
}

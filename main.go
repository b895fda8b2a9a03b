package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fableforge/chronicle/internal/cmd/migrate"
	"github.com/fableforge/chronicle/internal/cmd/seed"
	"github.com/fableforge/chronicle/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "chronicle",
		Usage: "Memory lifecycle engine for narrative role-play worlds",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			seed.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

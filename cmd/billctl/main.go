package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"billing/internal/billctl"
	"billing/internal/cli"
	"billing/internal/config"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := billctl.NewProvider(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	app := billctl.New(billctl.Options{
		APIURL:   cfg.BillingAPIURL,
		Timeout:  cfg.BillingAPITimeout,
		Provider: provider,
	})
	if err := app.Execute(ctx, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

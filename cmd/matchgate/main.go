package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"matchgate/internal/cli"
	"matchgate/internal/config"
	"matchgate/internal/errors"
)

func main() {
	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := errors.New(cfg.App.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Debug("Starting matchgate",
		"version", cli.Version,
		"log_level", cfg.App.LogLevel,
		"token_store", cfg.Auth.Store,
		"services", []string{cfg.Services.Core.BaseURL, cfg.Services.ML.BaseURL, cfg.Services.LLM.BaseURL})

	// Execute command with cancellable context
	if err := cli.Execute(ctx, cfg, logger); err != nil {
		logger.LogError(err, "Command failed")
		os.Exit(1)
	}
}

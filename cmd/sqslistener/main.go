// Package main provides the CLI entry point for the SQS listener container
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/our-edu/go-sqs-listener/commands"
	"github.com/our-edu/go-sqs-listener/internal/config"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	// Load configuration from .env file and environment variables
	cfg := config.Load()
	logger.Debug().
		Str("region", cfg.AWS.Region).
		Str("prefix", cfg.SQS.Prefix).
		Int("max_in_flight", cfg.Listener.MaxInFlight).
		Msg("Configuration loaded")

	rootCmd := &cobra.Command{
		Use:   "sqslistener",
		Short: "SQS Listener CLI",
		Long: `SQS Listener CLI runs listener containers on AWS SQS queues and provides
commands to send messages, inspect queue attributes and clean up
processed message records.`,
		SilenceUsage: true,
	}

	commands.AddCommands(rootCmd, cfg, logger)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// Package commands provides cobra commands for running and operating SQS
// listeners. Add them to your own CLI with AddCommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/our-edu/go-sqs-listener/internal/config"
	sqsdriver "github.com/our-edu/go-sqs-listener/internal/drivers/sqs"
	"github.com/our-edu/go-sqs-listener/internal/storage"
)

// AddCommands adds the listener commands to the provided root command
func AddCommands(rootCmd *cobra.Command, cfg *config.Config, logger zerolog.Logger) {
	rootCmd.AddCommand(
		newListenCmd(cfg, logger),
		newSendCmd(cfg, logger),
		newAttributesCmd(cfg, logger),
		newCleanupCmd(cfg, logger),
	)
}

// newSendCmd creates the send command
func newSendCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var raw bool
	var service string
	var count int

	cmd := &cobra.Command{
		Use:   "send [queue] [event-type|body] [json-payload]",
		Short: "Send a message to a queue",
		Long: `Sends an enveloped event to a queue. The payload is a JSON object.

With --raw the second argument is sent as the message body without an envelope.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := "{}"
			if len(args) == 3 {
				payload = args[2]
			}
			return runSend(cmd.Context(), cmd.OutOrStdout(), cfg, logger, sendRequest{
				queue:   args[0],
				subject: args[1],
				payload: payload,
				raw:     raw,
				service: service,
				count:   count,
			})
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Send the body as is, without an envelope")
	cmd.Flags().StringVarP(&service, "service", "s", "sqslistener-cli", "Service name recorded in the envelope")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of messages to send")

	return cmd
}

// newAttributesCmd creates the attributes command
func newAttributesCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "attributes [queue]",
		Short: "Display the attributes of a queue",
		Long:  `Resolves a queue name (with the configured prefix) or URL and prints all of its attributes.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttributes(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args[0])
		},
	}
}

// newCleanupCmd creates the cleanup command
func newCleanupCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Clean up old processed message records",
		Long:  `Removes processed message records of idempotent listeners older than the specified number of days from the database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1, got %d", days)
			}
			return runCleanup(cmd.Context(), cmd.OutOrStdout(), cfg, logger, days)
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "Delete records older than this many days")

	return cmd
}

type sendRequest struct {
	queue   string
	subject string
	payload string
	raw     bool
	service string
	count   int
}

func runSend(ctx context.Context, out io.Writer, cfg *config.Config, logger zerolog.Logger, req sendRequest) error {
	client, resolver, err := createDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	publisher := sqsdriver.NewPublisher(client, resolver, logger, req.service)
	return send(ctx, out, publisher, req)
}

func send(ctx context.Context, out io.Writer, publisher *sqsdriver.Publisher, req sendRequest) error {
	var payload map[string]any
	if !req.raw {
		if err := json.Unmarshal([]byte(req.payload), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	for i := 0; i < max(req.count, 1); i++ {
		var messageID string
		var err error
		if req.raw {
			messageID, err = publisher.SendRaw(ctx, req.queue, req.subject)
		} else {
			messageID, err = publisher.Publish(ctx, req.queue, req.subject, payload)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Sent message: %s\n", messageID)
	}
	return nil
}

func runAttributes(ctx context.Context, out io.Writer, cfg *config.Config, logger zerolog.Logger, queue string) error {
	_, resolver, err := createDriver(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return printAttributes(ctx, out, resolver, queue)
}

func printAttributes(ctx context.Context, out io.Writer, resolver *sqsdriver.Resolver, queue string) error {
	q, err := resolver.Resolve(ctx, queue, "All")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(q.Attributes))
	width := 0
	for name := range q.Attributes {
		names = append(names, name)
		width = max(width, len(name))
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\n=== %s ===\n", q.Name)
	fmt.Fprintf(out, "URL: %s\n", q.URL)
	fmt.Fprintf(out, "Visibility timeout: %s\n", q.VisibilityTimeout)
	fmt.Fprintln(out, strings.Repeat("-", width+2))
	for _, name := range names {
		fmt.Fprintf(out, "%-*s  %s\n", width, name, q.Attributes[name])
	}
	fmt.Fprintln(out)
	return nil
}

func runCleanup(ctx context.Context, out io.Writer, cfg *config.Config, logger zerolog.Logger, days int) error {
	redisClient, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	db, err := storage.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}

	store := storage.NewIdempotencyStore(redisClient, db, logger)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	deleted, err := store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Deleted %d processed message records older than %d days\n", deleted, days)
	return nil
}

// Helper functions

func createDriver(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*sqsdriver.Client, *sqsdriver.Resolver, error) {
	awsCfg, err := sqsdriver.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, nil, err
	}
	api := sqsdriver.NewSQSClient(awsCfg, cfg.AWS.Endpoint)
	return sqsdriver.NewClient(api, logger), sqsdriver.NewResolver(api, cfg.SQS.Prefix, nil, logger), nil
}

// connectRedis returns a client for the configured Redis, or nil when the
// listener does not need one
func connectRedis(ctx context.Context, cfg *config.Config, required bool) (redis.UniversalClient, error) {
	if !required {
		return nil, nil
	}
	client, err := storage.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	return client, nil
}

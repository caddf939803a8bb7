package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	sqslistener "github.com/our-edu/go-sqs-listener"
	"github.com/our-edu/go-sqs-listener/internal/config"
	"github.com/our-edu/go-sqs-listener/internal/storage"
)

type listenFlags struct {
	adminAddr   string
	maxInFlight int
	ordered     bool
	async       bool
	idempotent  bool
	fail        bool
	stopTimeout time.Duration
}

// newListenCmd creates the listen command
func newListenCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	var flags listenFlags

	cmd := &cobra.Command{
		Use:   "listen [queue...]",
		Short: "Listen to one or more SQS queues and print their messages",
		Long: `Starts a listener container on the given queues and prints every message
it receives. Messages are acknowledged unless --fail is set.

The listener implements:
- Long polling with a bounded number of in-flight messages per queue
- Synchronous or batched acknowledgement
- Automatic visibility extension while a message is processed
- Graceful shutdown on SIGINT/SIGTERM

An admin server exposes /healthz, /listeners and /metrics (Prometheus).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), cmd.OutOrStdout(), cfg, logger, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.adminAddr, "admin-addr", ":9090", "Admin server address (empty disables it)")
	cmd.Flags().IntVarP(&flags.maxInFlight, "max-in-flight", "m", cfg.Listener.MaxInFlight, "Maximum in-flight messages per queue")
	cmd.Flags().BoolVar(&flags.ordered, "ordered", cfg.Listener.DeliveryMode == config.DeliveryOrdered, "Process each batch in order")
	cmd.Flags().BoolVar(&flags.async, "async-ack", cfg.Listener.AckMode == config.AckModeAsync, "Acknowledge in batches")
	cmd.Flags().BoolVar(&flags.idempotent, "idempotent", false, "Skip messages already processed (requires Redis)")
	cmd.Flags().BoolVar(&flags.fail, "fail", false, "Leave messages in the queue after printing them")
	cmd.Flags().DurationVar(&flags.stopTimeout, "stop-timeout", cfg.Container.ShutdownTimeout, "How long to wait for in-flight messages on shutdown")

	return cmd
}

// errLeftInQueue makes the printer leave a message in the queue
var errLeftInQueue = errors.New("left in queue")

func runListen(ctx context.Context, out io.Writer, cfg *config.Config, logger zerolog.Logger, queues []string, flags listenFlags) error {
	redisClient, err := connectRedis(ctx, cfg, flags.idempotent)
	if err != nil {
		return err
	}

	opts := []sqslistener.Option{
		sqslistener.WithConfig(cfg),
		sqslistener.WithLogger(logger),
	}
	if flags.adminAddr != "" {
		opts = append(opts, sqslistener.WithPrometheusMetrics(true, cfg.SQS.Prometheus.Namespace))
	}
	if redisClient != nil {
		opts = append(opts, sqslistener.WithRedisClient(redisClient))
		if cfg.Database.Host != "" {
			db, err := storage.OpenDatabase(cfg.Database)
			if err != nil {
				logger.Warn().Err(err).Msg("Database unavailable, processed messages are only tracked in Redis")
			} else {
				opts = append(opts, sqslistener.WithDatabase(db))
			}
		}
	}

	container, err := sqslistener.New(opts...)
	if err != nil {
		return err
	}
	defer container.Close()

	listenerOpts := []sqslistener.ListenerOption{sqslistener.WithMaxInFlight(flags.maxInFlight)}
	if flags.ordered {
		listenerOpts = append(listenerOpts, sqslistener.WithDeliveryMode(sqslistener.DeliveryOrdered))
	}
	if flags.async {
		listenerOpts = append(listenerOpts, sqslistener.WithAckMode(sqslistener.AckModeAsync))
	}
	if flags.idempotent {
		listenerOpts = append(listenerOpts, sqslistener.WithIdempotentProcessing())
	}

	printer := newPrinter(out, flags.fail)
	for _, queue := range queues {
		if err := container.RegisterListener(queue, printer.handle, listenerOpts...); err != nil {
			return err
		}
	}

	if err := container.Start(ctx); err != nil {
		return err
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if flags.adminAddr != "" {
		server = &http.Server{
			Addr:              flags.adminAddr,
			Handler:           otelhttp.NewHandler(NewAdminRouter(container), "sqslistener.admin"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", flags.adminAddr).Msg("Admin server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	logger.Info().Strs("queues", queues).Msg("Listening, waiting for messages...")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Listener shutting down")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("Admin server failed")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}

	err = container.Stop(flags.stopTimeout)
	fmt.Fprintf(out, "Processed %d message(s)\n", printer.count())
	return err
}

// printer is a listener handler that writes every message to out
type printer struct {
	out  io.Writer
	fail bool

	mu        sync.Mutex
	processed int
}

func newPrinter(out io.Writer, fail bool) *printer {
	return &printer{out: out, fail: fail}
}

func (p *printer) handle(ctx context.Context, msg *sqslistener.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	fmt.Fprintf(p.out, "\n--- %s ---\n", msg.QueueName)
	fmt.Fprintf(p.out, "Message ID: %s\n", msg.MessageID)
	if count := msg.Attribute("ApproximateReceiveCount"); count != "" {
		fmt.Fprintf(p.out, "Receive count: %s\n", count)
	}
	for name, attr := range msg.MessageAttributes {
		fmt.Fprintf(p.out, "Attribute %s: %s\n", name, attr.Value)
	}

	var body any
	if err := json.Unmarshal([]byte(msg.Body), &body); err == nil {
		pretty, _ := json.MarshalIndent(body, "", "  ")
		fmt.Fprintf(p.out, "Body:\n%s\n", pretty)
	} else {
		fmt.Fprintf(p.out, "Body: %s\n", msg.Body)
	}

	if p.fail {
		return errLeftInQueue
	}
	return nil
}

func (p *printer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed
}

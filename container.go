// Package sqslistener provides a listener container for Amazon SQS.
//
// A Container polls one or more queues. Each queue has its own listener
// with a bounded number of in-flight messages, synchronous or batched
// acknowledgement, automatic visibility extension and ordered or concurrent
// delivery. Stop waits for in-flight messages up to a timeout and reports
// the messages it had to abandon.
//
// Example:
//
//	container, err := sqslistener.New(
//	    sqslistener.WithAWSRegion("us-east-2"),
//	    sqslistener.WithQueuePrefix("prod"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	container.RegisterListener("orders", func(ctx context.Context, msg *sqslistener.Message) error {
//	    return process(msg.Body)
//	}, sqslistener.WithMaxInFlight(20))
//
//	if err := container.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer container.Stop(30 * time.Second)
package sqslistener

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/our-edu/go-sqs-listener/internal/config"
	"github.com/our-edu/go-sqs-listener/internal/contracts"
	sqsdriver "github.com/our-edu/go-sqs-listener/internal/drivers/sqs"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
	"github.com/our-edu/go-sqs-listener/internal/pipeline"
	"github.com/our-edu/go-sqs-listener/internal/storage"
)

// ackCloseTimeout bounds the final flush of batched acknowledgements on stop
const ackCloseTimeout = 30 * time.Second

// Container manages the listeners of a set of queues
type Container struct {
	config      *config.Config
	serviceName string
	logger      zerolog.Logger

	client      *sqsdriver.Client
	resolver    *sqsdriver.Resolver
	metrics     metrics.Provider
	tracer      trace.Tracer
	redis       redis.UniversalClient
	idempotency *storage.IdempotencyStore

	// lifecycle serialises Start and Stop
	lifecycle sync.Mutex

	mu            sync.RWMutex
	state         State
	listeners     map[string]*listener
	order         []string
	processCancel context.CancelFunc
}

// New creates a container. AWS clients are created from the options unless
// injected with WithSQSClient. When Redis is configured it must answer a
// ping.
func New(opts ...Option) (*Container, error) {
	options := newOptions()
	for _, opt := range opts {
		opt(options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	cfg := options.config

	logger := options.logger
	if !options.loggerSet {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx := context.Background()

	api := options.sqsAPI
	cloudWatch := options.cloudWatch
	if api == nil || (cfg.SQS.CloudWatch.Enabled && cloudWatch == nil) {
		awsCfg, err := sqsdriver.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		if api == nil {
			api = sqsdriver.NewSQSClient(awsCfg, cfg.AWS.Endpoint)
		}
		if cfg.SQS.CloudWatch.Enabled && cloudWatch == nil {
			cloudWatch = sqsdriver.NewCloudWatchClient(awsCfg, cfg.AWS.Endpoint)
		}
	}

	c := &Container{
		config:      cfg,
		serviceName: options.serviceName,
		logger:      logger,
		client:      sqsdriver.NewClient(api, logger),
		redis:       options.redisClient,
		state:       StateCreated,
		listeners:   make(map[string]*listener),
	}

	var cache contracts.Cache
	if options.redisClient != nil {
		if err := options.redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRedisConnectionFailed, err)
		}
		logger.Info().Msg("Redis connection verified")

		cache = storage.NewRedisCache(options.redisClient, "sqslistener")
		c.idempotency = storage.NewIdempotencyStore(options.redisClient, options.db, logger)
		if err := c.idempotency.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate processed events table: %w", err)
		}
	}
	c.resolver = sqsdriver.NewResolver(api, cfg.SQS.Prefix, cache, logger)

	c.metrics = options.metricsProvider
	if c.metrics == nil {
		factory := metrics.NewFactoryFromConfig(cfg, cloudWatch, logger)
		if options.prometheusRegistry != nil {
			factory.WithPrometheusRegistry(options.prometheusRegistry)
		}
		c.metrics = factory.Create()
	}

	tp := options.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	c.tracer = tp.Tracer(pipeline.TracerName)

	return c, nil
}

// RegisterListener registers handler for a queue name or URL. Names are
// prefixed with the configured queue prefix when the container starts.
// Registering a queue again replaces its listener. Listeners cannot be
// changed while the container is running.
func (c *Container) RegisterListener(queue string, handler Handler, opts ...ListenerOption) error {
	if queue == "" {
		return NewValidationError("queue name is required", nil)
	}
	if handler == nil {
		return NewValidationError("invalid listener for queue "+queue, ErrNilHandler)
	}

	o := newListenerOptions(c.config.Listener)
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return err
	}
	if o.idempotent && c.idempotency == nil {
		return NewValidationError("invalid listener for queue "+queue, ErrIdempotencyNotConfigured)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStarted {
		return ErrContainerRunning
	}

	if _, exists := c.listeners[queue]; !exists {
		c.order = append(c.order, queue)
	} else {
		c.logger.Warn().Str("queue", queue).Msg("Replacing existing listener")
	}
	c.listeners[queue] = &listener{queue: queue, handler: handler, opts: o}

	c.logger.Debug().
		Str("queue", queue).
		Int("max_in_flight", o.maxInFlight).
		Str("ack_mode", string(o.ackMode)).
		Str("delivery_mode", string(o.deliveryMode)).
		Msg("Registered listener")
	return nil
}

// AddInterceptor appends an interceptor to the listener of a queue.
// Interceptors run in registration order.
func (c *Container) AddInterceptor(queue string, interceptor Interceptor) error {
	if interceptor == nil {
		return NewValidationError("interceptor is nil", nil)
	}
	return c.updateListener(queue, func(l *listener) {
		l.interceptors = append(l.interceptors, interceptor)
	})
}

// SetErrorHandler sets the error handler of the listener of a queue.
func (c *Container) SetErrorHandler(queue string, handler ErrorHandler) error {
	return c.updateListener(queue, func(l *listener) {
		l.errorHandler = handler
	})
}

func (c *Container) updateListener(queue string, update func(*listener)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStarted {
		return ErrContainerRunning
	}
	l, ok := c.listeners[queue]
	if !ok {
		return fmt.Errorf("%w: %s", ErrListenerNotFound, queue)
	}
	update(l)
	return nil
}

// Start resolves every registered queue and starts polling. Starting a
// running container is a no-op. If a queue cannot be resolved nothing is
// started and the state is unchanged. A stopped container may be started
// again.
//
// Message processing is not bound to ctx cancellation; use Stop.
func (c *Container) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	state := c.state
	listeners := c.snapshot()
	c.mu.RUnlock()

	if state == StateStarted {
		return nil
	}
	if len(listeners) == 0 {
		return NewValidationError("cannot start container", ErrNoListeners)
	}

	queues := make([]Queue, len(listeners))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range listeners {
		g.Go(func() error {
			q, err := c.resolver.Resolve(gctx, l.queue, l.opts.queueAttributes...)
			if err != nil {
				return fmt.Errorf("failed to resolve queue %s: %w", l.queue, err)
			}
			queues[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error().Err(err).Msg("Container failed to start")
		return err
	}

	for i, l := range listeners {
		if err := l.validate(queues[i]); err != nil {
			c.logger.Error().Err(err).Str("queue", l.queue).Msg("Container failed to start")
			return NewValidationError("invalid options for queue "+l.queue, err)
		}
	}

	processCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	for i, l := range listeners {
		l.build(c, queues[i])
	}
	for _, l := range listeners {
		l.start(processCtx)
	}

	c.mu.Lock()
	c.processCancel = cancel
	c.state = StateStarted
	c.mu.Unlock()

	c.logger.Info().Int("listeners", len(listeners)).Msg("Container started")
	return nil
}

// Stop stops polling and waits up to timeout for in-flight messages. A
// non-positive timeout uses the configured shutdown timeout. Messages still
// in flight when the timeout expires are abandoned: their processing
// context is cancelled, they are not acknowledged and a
// *PartialShutdownError is returned. Stopping a container that is not
// running is a no-op.
func (c *Container) Stop(timeout time.Duration) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	state := c.state
	listeners := c.snapshot()
	processCancel := c.processCancel
	c.mu.RUnlock()

	if state != StateStarted {
		return nil
	}
	if timeout <= 0 {
		timeout = c.config.Container.ShutdownTimeout
	}

	c.logger.Info().Dur("timeout", timeout).Msg("Stopping container")

	for _, l := range listeners {
		l.source.Stop()
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	abandoned := make(map[string]int)
	for _, l := range listeners {
		if err := l.source.Wait(waitCtx); err != nil {
			if n := l.source.InFlight(); n > 0 {
				abandoned[l.resolved.Name] = n
			}
		}
	}

	if len(abandoned) > 0 {
		processCancel()
		for _, l := range listeners {
			n := abandoned[l.resolved.Name]
			released := l.permits.Close()
			if n == 0 {
				continue
			}
			c.metrics.IncAbandoned(context.Background(), l.resolved.Name, n)
			c.logger.Warn().
				Str("queue", l.resolved.Name).
				Int("abandoned", n).
				Int("permits_released", released).
				Msg("Abandoned in-flight messages")
		}
	}

	ackCtx, ackCancel := context.WithTimeout(context.Background(), ackCloseTimeout)
	defer ackCancel()
	for _, l := range listeners {
		if err := l.acker.Close(ackCtx); err != nil {
			c.logger.Error().Err(err).Str("queue", l.resolved.Name).Msg("Failed to flush acknowledgements")
		}
		if l.extender != nil {
			l.extender.Stop()
		}
	}
	processCancel()

	if err := c.metrics.Flush(ackCtx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to flush metrics")
	}

	c.mu.Lock()
	c.state = StateStopped
	c.processCancel = nil
	c.mu.Unlock()

	if len(abandoned) > 0 {
		err := &PartialShutdownError{Abandoned: abandoned}
		c.logger.Warn().Err(err).Msg("Container stopped with abandoned messages")
		return err
	}

	c.logger.Info().Msg("Container stopped")
	return nil
}

// snapshot returns the listeners in registration order; c.mu must be held
func (c *Container) snapshot() []*listener {
	out := make([]*listener, 0, len(c.order))
	for _, q := range c.order {
		out = append(out, c.listeners[q])
	}
	return out
}

// State returns the lifecycle state
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsRunning reports whether the container is started
func (c *Container) IsRunning() bool {
	return c.State() == StateStarted
}

// Listeners returns the registered queues in registration order
func (c *Container) Listeners() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Queue returns the queue resolved for a registered listener. It reports
// false until the container has been started.
func (c *Container) Queue(queue string) (Queue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.listeners[queue]
	if !ok || l.source == nil {
		return Queue{}, false
	}
	return l.resolved, true
}

// InFlight returns the number of messages of a queue whose processing has
// not completed
func (c *Container) InFlight(queue string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.listeners[queue]
	if !ok || l.source == nil {
		return 0
	}
	return l.source.InFlight()
}

// Publish wraps payload in an event envelope and sends it to a queue.
// The queue name is prefixed like listener queues.
func (c *Container) Publish(ctx context.Context, queue, eventType string, payload map[string]any) (string, error) {
	return sqsdriver.NewPublisher(c.client, c.resolver, c.logger, c.serviceName).Publish(ctx, queue, eventType, payload)
}

// CleanupProcessedEvents removes processed message records older than
// olderThan from the database. It requires WithRedis and WithDatabase.
func (c *Container) CleanupProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if c.idempotency == nil {
		return 0, NewValidationError("cannot clean up processed events", ErrIdempotencyNotConfigured)
	}
	return c.idempotency.Cleanup(ctx, olderThan)
}

// Metrics returns the metrics provider
func (c *Container) Metrics() MetricsProvider {
	return c.metrics
}

// PrometheusHandler returns the HTTP handler serving Prometheus metrics.
// Returns nil if Prometheus metrics are not enabled.
//
// Example:
//
//	container, _ := sqslistener.New(
//	    sqslistener.WithPrometheusMetrics(true, "myapp"),
//	)
//	http.Handle("/metrics", container.PrometheusHandler())
func (c *Container) PrometheusHandler() http.Handler {
	if hp, ok := c.metrics.(metrics.HTTPProvider); ok {
		return hp.Handler()
	}
	return nil
}

// PrometheusEnabled reports whether Prometheus metrics are served
func (c *Container) PrometheusEnabled() bool {
	return c.PrometheusHandler() != nil
}

// Close stops the container with the configured shutdown timeout and
// closes the Redis client.
func (c *Container) Close() error {
	err := c.Stop(0)
	if c.redis != nil {
		if cerr := c.redis.Close(); cerr != nil && !errors.Is(cerr, redis.ErrClosed) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

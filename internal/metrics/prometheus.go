package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// PrometheusProvider handles exposing metrics to Prometheus
type PrometheusProvider struct {
	logger    zerolog.Logger
	namespace string
	subsystem string
	enabled   bool

	// Custom registry (if provided)
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	// Counters
	messagesReceived     *prometheus.CounterVec
	messagesProcessed    *prometheus.CounterVec
	messagesAbandoned    *prometheus.CounterVec
	messagesAcknowledged *prometheus.CounterVec
	ackErrors            *prometheus.CounterVec
	receiveErrors        *prometheus.CounterVec
	visibilityExtensions *prometheus.CounterVec
	visibilityErrors     *prometheus.CounterVec

	// Gauges
	inFlight *prometheus.GaugeVec

	// Histograms
	processingDuration *prometheus.HistogramVec

	// Track if already registered
	registered bool
	mu         sync.Mutex
}

// PrometheusConfig holds configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled   bool                  // Whether Prometheus metrics are enabled
	Namespace string                // Metric namespace (e.g., "sqslistener")
	Subsystem string                // Metric subsystem (e.g., "orders")
	Registry  prometheus.Registerer // Custom registry (optional, defaults to prometheus.DefaultRegisterer)
}

// DefaultPrometheusConfig returns the default Prometheus configuration
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{
		Enabled:   true,
		Namespace: "sqslistener",
	}
}

// NewPrometheusProvider creates a new Prometheus metrics provider
func NewPrometheusProvider(logger zerolog.Logger, cfg PrometheusConfig) *PrometheusProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "sqslistener"
	}

	s := &PrometheusProvider{
		logger:    logger,
		namespace: cfg.Namespace,
		subsystem: cfg.Subsystem,
		registry:  cfg.Registry,
		enabled:   cfg.Enabled,
	}

	// If a custom registry is provided, try to get the gatherer for it
	if cfg.Registry != nil {
		if reg, ok := cfg.Registry.(*prometheus.Registry); ok {
			s.gatherer = reg
		}
	}

	s.initMetrics()
	return s
}

var (
	_ Provider          = (*PrometheusProvider)(nil)
	_ HTTPProvider      = (*PrometheusProvider)(nil)
	_ CollectorProvider = (*PrometheusProvider)(nil)
)

// Name returns the provider name
func (s *PrometheusProvider) Name() string {
	return string(ProviderTypePrometheus)
}

// Enabled returns whether Prometheus metrics are enabled
func (s *PrometheusProvider) Enabled() bool {
	return s.enabled
}

func (s *PrometheusProvider) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func (s *PrometheusProvider) initMetrics() {
	// Counters
	s.messagesReceived = s.counter("messages_received_total", "Total number of messages received", "queue")
	s.messagesProcessed = s.counter("messages_processed_total", "Total number of messages processed by status", "queue", "status")
	s.messagesAbandoned = s.counter("messages_abandoned_total", "Total number of in-flight messages abandoned on shutdown", "queue")
	s.messagesAcknowledged = s.counter("messages_acknowledged_total", "Total number of messages deleted from the queue", "queue")
	s.ackErrors = s.counter("ack_errors_total", "Total number of failed message deletions", "queue")
	s.receiveErrors = s.counter("receive_errors_total", "Total number of failed receive calls", "queue")
	s.visibilityExtensions = s.counter("visibility_extensions_total", "Total number of visibility timeout extensions", "queue")
	s.visibilityErrors = s.counter("visibility_errors_total", "Total number of failed visibility timeout extensions", "queue")

	// Gauges
	s.inFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "messages_in_flight",
			Help:      "Number of received messages whose processing has not completed",
		},
		[]string{"queue"},
	)

	// Histograms
	s.processingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: s.subsystem,
			Name:      "processing_duration_milliseconds",
			Help:      "Message processing duration in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"queue"},
	)
}

// Register registers all metrics with the Prometheus registry.
// If a custom registry was provided via PrometheusConfig.Registry, metrics
// will be registered there. Otherwise, metrics are registered with the
// default Prometheus registry.
func (s *PrometheusProvider) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	// Use custom registry if provided, otherwise use default
	registerer := s.registry
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	for _, c := range s.Collectors() {
		if err := registerer.Register(c); err != nil {
			// Ignore already registered errors
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	s.registered = true
	s.logger.Info().Msg("Prometheus metrics registered")
	return nil
}

// Collectors returns all Prometheus collectors used by this provider.
// This allows manual registration to a custom registry if needed.
func (s *PrometheusProvider) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.messagesReceived,
		s.messagesProcessed,
		s.messagesAbandoned,
		s.messagesAcknowledged,
		s.ackErrors,
		s.receiveErrors,
		s.visibilityExtensions,
		s.visibilityErrors,
		s.inFlight,
		s.processingDuration,
	}
}

// Handler returns an http.Handler for the /metrics endpoint.
// If a custom registry was provided, returns a handler for that registry.
// Otherwise, returns the default promhttp.Handler().
func (s *PrometheusProvider) Handler() http.Handler {
	if s.gatherer != nil {
		return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// IncMessagesReceived adds received messages
func (s *PrometheusProvider) IncMessagesReceived(_ context.Context, queue string, count int) {
	if !s.enabled {
		return
	}
	s.messagesReceived.WithLabelValues(queue).Add(float64(count))
}

// IncReceiveErrors increments the receive errors counter
func (s *PrometheusProvider) IncReceiveErrors(_ context.Context, queue string) {
	if !s.enabled {
		return
	}
	s.receiveErrors.WithLabelValues(queue).Inc()
}

// IncMessagesProcessed increments the messages processed counter
func (s *PrometheusProvider) IncMessagesProcessed(_ context.Context, queue, status string) {
	if !s.enabled {
		return
	}
	s.messagesProcessed.WithLabelValues(queue, status).Inc()
}

// ObserveProcessingDuration records the processing duration
func (s *PrometheusProvider) ObserveProcessingDuration(_ context.Context, queue string, durationMs float64) {
	if !s.enabled {
		return
	}
	s.processingDuration.WithLabelValues(queue).Observe(durationMs)
}

// SetInFlight sets the number of in-flight messages
func (s *PrometheusProvider) SetInFlight(_ context.Context, queue string, count float64) {
	if !s.enabled {
		return
	}
	s.inFlight.WithLabelValues(queue).Set(count)
}

// IncAbandoned adds abandoned messages
func (s *PrometheusProvider) IncAbandoned(_ context.Context, queue string, count int) {
	if !s.enabled {
		return
	}
	s.messagesAbandoned.WithLabelValues(queue).Add(float64(count))
}

// IncAcknowledged adds deleted messages
func (s *PrometheusProvider) IncAcknowledged(_ context.Context, queue string, count int) {
	if !s.enabled {
		return
	}
	s.messagesAcknowledged.WithLabelValues(queue).Add(float64(count))
}

// IncAckErrors adds failed deletions
func (s *PrometheusProvider) IncAckErrors(_ context.Context, queue string, count int) {
	if !s.enabled {
		return
	}
	s.ackErrors.WithLabelValues(queue).Add(float64(count))
}

// IncVisibilityExtensions increments the visibility extensions counter
func (s *PrometheusProvider) IncVisibilityExtensions(_ context.Context, queue string) {
	if !s.enabled {
		return
	}
	s.visibilityExtensions.WithLabelValues(queue).Inc()
}

// IncVisibilityErrors increments the visibility errors counter
func (s *PrometheusProvider) IncVisibilityErrors(_ context.Context, queue string) {
	if !s.enabled {
		return
	}
	s.visibilityErrors.WithLabelValues(queue).Inc()
}

// Flush is a no-op; Prometheus pulls metrics
func (s *PrometheusProvider) Flush(context.Context) error {
	return nil
}

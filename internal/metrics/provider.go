// Package metrics provides metrics integration for the SQS listener container
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// Processing status labels
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusVetoed    = "vetoed"
	StatusAbandoned = "abandoned"
)

// Provider defines the unified interface for all metrics providers.
// Implementations include CloudWatch, Prometheus, Noop, and Composite providers.
type Provider interface {
	// Polling
	IncMessagesReceived(ctx context.Context, queue string, count int)
	IncReceiveErrors(ctx context.Context, queue string)

	// Processing
	IncMessagesProcessed(ctx context.Context, queue, status string)
	ObserveProcessingDuration(ctx context.Context, queue string, durationMs float64)
	SetInFlight(ctx context.Context, queue string, count float64)
	IncAbandoned(ctx context.Context, queue string, count int)

	// Acknowledgement
	IncAcknowledged(ctx context.Context, queue string, count int)
	IncAckErrors(ctx context.Context, queue string, count int)

	// Visibility extension
	IncVisibilityExtensions(ctx context.Context, queue string)
	IncVisibilityErrors(ctx context.Context, queue string)

	// Flush sends any buffered data points
	Flush(ctx context.Context) error

	// Provider info
	Name() string
	Enabled() bool
}

// HTTPProvider is an optional interface for providers that expose HTTP handlers (e.g., Prometheus)
type HTTPProvider interface {
	Provider
	Handler() http.Handler
}

// CollectorProvider is an optional interface for providers that expose Prometheus collectors
type CollectorProvider interface {
	Provider
	Collectors() []prometheus.Collector
	Register() error
}

// ProviderType represents the type of metrics provider
type ProviderType string

const (
	ProviderTypeCloudWatch ProviderType = "cloudwatch"
	ProviderTypePrometheus ProviderType = "prometheus"
	ProviderTypeNoop       ProviderType = "noop"
	ProviderTypeComposite  ProviderType = "composite"
)

// Metric names shared by the providers
const (
	MetricMessagesReceived    = "sqs.messages.received"
	MetricMessagesProcessed   = "sqs.messages.processed"
	MetricProcessingTime      = "sqs.processing_time"
	MetricInFlight            = "sqs.in_flight"
	MetricAbandoned           = "sqs.messages.abandoned"
	MetricAcknowledged        = "sqs.messages.acknowledged"
	MetricAckErrors           = "sqs.ack_errors"
	MetricReceiveErrors       = "sqs.receive_errors"
	MetricVisibilityExtension = "sqs.visibility.extensions"
	MetricVisibilityErrors    = "sqs.visibility.errors"
)

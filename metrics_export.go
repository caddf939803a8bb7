package sqslistener

import (
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

// Re-export metrics types for convenience

// MetricsProvider is the unified interface for all metrics providers.
type MetricsProvider = metrics.Provider

// HTTPMetricsProvider is an optional interface for providers that expose HTTP handlers.
type HTTPMetricsProvider = metrics.HTTPProvider

// CollectorMetricsProvider is an optional interface for providers that expose Prometheus collectors.
type CollectorMetricsProvider = metrics.CollectorProvider

// MetricsProviderType represents the type of metrics provider.
type MetricsProviderType = metrics.ProviderType

// Metrics provider type constants
const (
	MetricsProviderCloudWatch = metrics.ProviderTypeCloudWatch
	MetricsProviderPrometheus = metrics.ProviderTypePrometheus
	MetricsProviderNoop       = metrics.ProviderTypeNoop
	MetricsProviderComposite  = metrics.ProviderTypeComposite
)

// Metric names shared by the providers
const (
	MetricMessagesReceived    = metrics.MetricMessagesReceived
	MetricMessagesProcessed   = metrics.MetricMessagesProcessed
	MetricProcessingTime      = metrics.MetricProcessingTime
	MetricInFlight            = metrics.MetricInFlight
	MetricAbandoned           = metrics.MetricAbandoned
	MetricAcknowledged        = metrics.MetricAcknowledged
	MetricAckErrors           = metrics.MetricAckErrors
	MetricReceiveErrors       = metrics.MetricReceiveErrors
	MetricVisibilityExtension = metrics.MetricVisibilityExtension
	MetricVisibilityErrors    = metrics.MetricVisibilityErrors
)

// Processing status labels
const (
	StatusSuccess   = metrics.StatusSuccess
	StatusFailed    = metrics.StatusFailed
	StatusVetoed    = metrics.StatusVetoed
	StatusAbandoned = metrics.StatusAbandoned
)

// NewNoopMetricsProvider returns a provider that discards every data point
func NewNoopMetricsProvider() MetricsProvider {
	return metrics.NewNoopProvider()
}

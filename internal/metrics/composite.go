package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// CompositeProvider aggregates multiple metrics providers and delegates calls to all of them.
// This allows sending metrics to multiple backends simultaneously (e.g., CloudWatch and Prometheus).
type CompositeProvider struct {
	providers []Provider
}

// NewCompositeProvider creates a new composite provider with the given providers.
// Only enabled providers are included.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	enabledProviders := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.Enabled() {
			enabledProviders = append(enabledProviders, p)
		}
	}
	return &CompositeProvider{
		providers: enabledProviders,
	}
}

var (
	_ Provider          = (*CompositeProvider)(nil)
	_ HTTPProvider      = (*CompositeProvider)(nil)
	_ CollectorProvider = (*CompositeProvider)(nil)
)

// Name returns the provider name
func (c *CompositeProvider) Name() string {
	return string(ProviderTypeComposite)
}

// Enabled returns true if at least one provider is enabled
func (c *CompositeProvider) Enabled() bool {
	return len(c.providers) > 0
}

func (c *CompositeProvider) IncMessagesReceived(ctx context.Context, queue string, count int) {
	for _, p := range c.providers {
		p.IncMessagesReceived(ctx, queue, count)
	}
}

func (c *CompositeProvider) IncReceiveErrors(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncReceiveErrors(ctx, queue)
	}
}

func (c *CompositeProvider) IncMessagesProcessed(ctx context.Context, queue, status string) {
	for _, p := range c.providers {
		p.IncMessagesProcessed(ctx, queue, status)
	}
}

func (c *CompositeProvider) ObserveProcessingDuration(ctx context.Context, queue string, durationMs float64) {
	for _, p := range c.providers {
		p.ObserveProcessingDuration(ctx, queue, durationMs)
	}
}

func (c *CompositeProvider) SetInFlight(ctx context.Context, queue string, count float64) {
	for _, p := range c.providers {
		p.SetInFlight(ctx, queue, count)
	}
}

func (c *CompositeProvider) IncAbandoned(ctx context.Context, queue string, count int) {
	for _, p := range c.providers {
		p.IncAbandoned(ctx, queue, count)
	}
}

func (c *CompositeProvider) IncAcknowledged(ctx context.Context, queue string, count int) {
	for _, p := range c.providers {
		p.IncAcknowledged(ctx, queue, count)
	}
}

func (c *CompositeProvider) IncAckErrors(ctx context.Context, queue string, count int) {
	for _, p := range c.providers {
		p.IncAckErrors(ctx, queue, count)
	}
}

func (c *CompositeProvider) IncVisibilityExtensions(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncVisibilityExtensions(ctx, queue)
	}
}

func (c *CompositeProvider) IncVisibilityErrors(ctx context.Context, queue string) {
	for _, p := range c.providers {
		p.IncVisibilityErrors(ctx, queue)
	}
}

// Flush flushes every provider and joins their errors
func (c *CompositeProvider) Flush(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler returns the HTTP handler from the first HTTPProvider found.
// Returns nil if no HTTPProvider is available.
func (c *CompositeProvider) Handler() http.Handler {
	for _, p := range c.providers {
		if hp, ok := p.(HTTPProvider); ok {
			return hp.Handler()
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors from all CollectorProviders.
func (c *CompositeProvider) Collectors() []prometheus.Collector {
	var collectors []prometheus.Collector
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			collectors = append(collectors, cp.Collectors()...)
		}
	}
	return collectors
}

// Register registers all CollectorProviders.
func (c *CompositeProvider) Register() error {
	var lastErr error
	for _, p := range c.providers {
		if cp, ok := p.(CollectorProvider); ok {
			if err := cp.Register(); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// GetPrometheusProvider returns the Prometheus provider if available.
func (c *CompositeProvider) GetPrometheusProvider() *PrometheusProvider {
	for _, p := range c.providers {
		if pp, ok := p.(*PrometheusProvider); ok {
			return pp
		}
	}
	return nil
}

// Providers returns all underlying providers.
func (c *CompositeProvider) Providers() []Provider {
	return c.providers
}

package metrics

import (
	"context"
)

// NoopProvider is a no-operation metrics provider that does nothing.
// Used when metrics are disabled or as a fallback.
type NoopProvider struct{}

// NewNoopProvider creates a new no-operation metrics provider
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

var _ Provider = (*NoopProvider)(nil)

// Name returns the provider name
func (n *NoopProvider) Name() string {
	return string(ProviderTypeNoop)
}

// Enabled returns false as this provider does nothing
func (n *NoopProvider) Enabled() bool {
	return false
}

func (n *NoopProvider) IncMessagesReceived(context.Context, string, int) {}

func (n *NoopProvider) IncReceiveErrors(context.Context, string) {}

func (n *NoopProvider) IncMessagesProcessed(context.Context, string, string) {}

func (n *NoopProvider) ObserveProcessingDuration(context.Context, string, float64) {}

func (n *NoopProvider) SetInFlight(context.Context, string, float64) {}

func (n *NoopProvider) IncAbandoned(context.Context, string, int) {}

func (n *NoopProvider) IncAcknowledged(context.Context, string, int) {}

func (n *NoopProvider) IncAckErrors(context.Context, string, int) {}

func (n *NoopProvider) IncVisibilityExtensions(context.Context, string) {}

func (n *NoopProvider) IncVisibilityErrors(context.Context, string) {}

func (n *NoopProvider) Flush(context.Context) error { return nil }

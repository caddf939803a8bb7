package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/our-edu/go-sqs-listener/internal/config"
)

// FactoryConfig holds configuration for creating metrics providers
type FactoryConfig struct {
	// CloudWatch configuration
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchClient    CloudWatchAPI

	// Prometheus configuration
	PrometheusEnabled   bool
	PrometheusNamespace string
	PrometheusSubsystem string
	PrometheusRegistry  prometheus.Registerer

	// Logger
	Logger zerolog.Logger
}

// Factory creates metrics providers based on configuration
type Factory struct {
	config FactoryConfig
}

// NewFactory creates a new metrics factory
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{config: cfg}
}

// NewFactoryFromConfig creates a factory from the application config
func NewFactoryFromConfig(cfg *config.Config, cwClient CloudWatchAPI, logger zerolog.Logger) *Factory {
	return &Factory{
		config: FactoryConfig{
			CloudWatchEnabled:   cfg.SQS.CloudWatch.Enabled,
			CloudWatchNamespace: cfg.SQS.CloudWatch.Namespace,
			CloudWatchClient:    cwClient,
			PrometheusEnabled:   cfg.SQS.Prometheus.Enabled,
			PrometheusNamespace: cfg.SQS.Prometheus.Namespace,
			PrometheusSubsystem: cfg.SQS.Prometheus.Subsystem,
			Logger:              logger,
		},
	}
}

// Create creates a metrics provider based on the factory configuration.
// If both CloudWatch and Prometheus are enabled, returns a CompositeProvider.
// If only one is enabled, returns that specific provider.
// If neither is enabled, returns a NoopProvider.
func (f *Factory) Create() Provider {
	var providers []Provider

	if cw := f.CreateCloudWatch(); cw != nil {
		providers = append(providers, cw)
		f.config.Logger.Debug().Msg("CloudWatch metrics provider created")
	}

	if prom := f.CreatePrometheus(); prom != nil {
		if err := prom.Register(); err != nil {
			f.config.Logger.Warn().Err(err).Msg("Failed to register Prometheus metrics")
		}
		providers = append(providers, prom)
		f.config.Logger.Debug().Msg("Prometheus metrics provider created")
	}

	switch len(providers) {
	case 0:
		f.config.Logger.Debug().Msg("No metrics providers enabled, using NoopProvider")
		return NewNoopProvider()
	case 1:
		return providers[0]
	default:
		f.config.Logger.Debug().
			Int("provider_count", len(providers)).
			Msg("Multiple metrics providers enabled, using CompositeProvider")
		return NewCompositeProvider(providers...)
	}
}

// CreateCloudWatch creates only a CloudWatch provider
func (f *Factory) CreateCloudWatch() *CloudWatchProvider {
	if !f.config.CloudWatchEnabled || f.config.CloudWatchClient == nil {
		return nil
	}
	return NewCloudWatchProvider(
		f.config.CloudWatchClient,
		CloudWatchConfig{Enabled: true, Namespace: f.config.CloudWatchNamespace},
		f.config.Logger,
	)
}

// CreatePrometheus creates only a Prometheus provider
func (f *Factory) CreatePrometheus() *PrometheusProvider {
	if !f.config.PrometheusEnabled {
		return nil
	}
	return NewPrometheusProvider(f.config.Logger, PrometheusConfig{
		Enabled:   true,
		Namespace: f.config.PrometheusNamespace,
		Subsystem: f.config.PrometheusSubsystem,
		Registry:  f.config.PrometheusRegistry,
	})
}

// WithPrometheusRegistry sets a custom Prometheus registry
func (f *Factory) WithPrometheusRegistry(registry prometheus.Registerer) *Factory {
	f.config.PrometheusRegistry = registry
	return f
}

// WithCloudWatchClient sets the CloudWatch client
func (f *Factory) WithCloudWatchClient(client CloudWatchAPI) *Factory {
	f.config.CloudWatchClient = client
	return f
}

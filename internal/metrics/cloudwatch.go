package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// cloudWatchBatchSize is the maximum number of data points per PutMetricData call
const cloudWatchBatchSize = 20

// CloudWatchAPI is the subset of the CloudWatch client used by the provider
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchProvider buffers data points and sends them to AWS CloudWatch in
// batches. A batch is sent as soon as it is full; Flush sends the remainder.
type CloudWatchProvider struct {
	client    CloudWatchAPI
	namespace string
	logger    zerolog.Logger
	buffer    []types.MetricDatum
	mutex     sync.Mutex
	batchSize int
	enabled   bool
}

// CloudWatchConfig holds configuration for CloudWatch provider
type CloudWatchConfig struct {
	Enabled   bool
	Namespace string
}

// NewCloudWatchProvider creates a new CloudWatch metrics provider
func NewCloudWatchProvider(client CloudWatchAPI, cfg CloudWatchConfig, logger zerolog.Logger) *CloudWatchProvider {
	if cfg.Namespace == "" {
		cfg.Namespace = "SQS/Listener"
	}
	return &CloudWatchProvider{
		client:    client,
		namespace: cfg.Namespace,
		logger:    logger,
		buffer:    make([]types.MetricDatum, 0, cloudWatchBatchSize),
		batchSize: cloudWatchBatchSize,
		enabled:   cfg.Enabled && client != nil,
	}
}

var _ Provider = (*CloudWatchProvider)(nil)

// Name returns the provider name
func (s *CloudWatchProvider) Name() string {
	return string(ProviderTypeCloudWatch)
}

// Enabled returns whether CloudWatch metrics are enabled
func (s *CloudWatchProvider) Enabled() bool {
	return s.enabled
}

// IncMessagesReceived adds received messages
func (s *CloudWatchProvider) IncMessagesReceived(ctx context.Context, queue string, count int) {
	s.bufferMetric(ctx, MetricMessagesReceived, float64(count), types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncReceiveErrors increments the receive errors counter
func (s *CloudWatchProvider) IncReceiveErrors(ctx context.Context, queue string) {
	s.bufferMetric(ctx, MetricReceiveErrors, 1, types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncMessagesProcessed increments the messages processed counter
func (s *CloudWatchProvider) IncMessagesProcessed(ctx context.Context, queue, status string) {
	s.bufferMetric(ctx, MetricMessagesProcessed, 1, types.StandardUnitCount, map[string]string{
		"queue":  queue,
		"status": status,
	})
}

// ObserveProcessingDuration records the processing duration
func (s *CloudWatchProvider) ObserveProcessingDuration(ctx context.Context, queue string, durationMs float64) {
	s.bufferMetric(ctx, MetricProcessingTime, durationMs, types.StandardUnitMilliseconds, map[string]string{"queue": queue})
}

// SetInFlight records the number of in-flight messages
func (s *CloudWatchProvider) SetInFlight(ctx context.Context, queue string, count float64) {
	s.bufferMetric(ctx, MetricInFlight, count, types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncAbandoned adds abandoned messages
func (s *CloudWatchProvider) IncAbandoned(ctx context.Context, queue string, count int) {
	s.bufferMetric(ctx, MetricAbandoned, float64(count), types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncAcknowledged adds deleted messages
func (s *CloudWatchProvider) IncAcknowledged(ctx context.Context, queue string, count int) {
	s.bufferMetric(ctx, MetricAcknowledged, float64(count), types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncAckErrors adds failed deletions
func (s *CloudWatchProvider) IncAckErrors(ctx context.Context, queue string, count int) {
	s.bufferMetric(ctx, MetricAckErrors, float64(count), types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncVisibilityExtensions increments the visibility extensions counter
func (s *CloudWatchProvider) IncVisibilityExtensions(ctx context.Context, queue string) {
	s.bufferMetric(ctx, MetricVisibilityExtension, 1, types.StandardUnitCount, map[string]string{"queue": queue})
}

// IncVisibilityErrors increments the visibility errors counter
func (s *CloudWatchProvider) IncVisibilityErrors(ctx context.Context, queue string) {
	s.bufferMetric(ctx, MetricVisibilityErrors, 1, types.StandardUnitCount, map[string]string{"queue": queue})
}

// bufferMetric adds a data point and sends the buffer once a batch is full
func (s *CloudWatchProvider) bufferMetric(ctx context.Context, name string, value float64, unit types.StandardUnit, dimensions map[string]string) {
	if !s.enabled {
		return
	}

	s.mutex.Lock()
	s.buffer = append(s.buffer, s.createMetricDatum(name, value, unit, dimensions))
	if len(s.buffer) < s.batchSize {
		s.mutex.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]types.MetricDatum, 0, s.batchSize)
	s.mutex.Unlock()

	if err := s.put(ctx, batch); err != nil {
		s.logger.Warn().
			Int("batch_size", len(batch)).
			Err(err).
			Msg("Failed to send CloudWatch metrics batch")
	}
}

// Flush sends all buffered metrics to CloudWatch
func (s *CloudWatchProvider) Flush(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	s.mutex.Lock()
	pending := s.buffer
	s.buffer = make([]types.MetricDatum, 0, s.batchSize)
	s.mutex.Unlock()

	if len(pending) == 0 {
		return nil
	}

	// Send in batches of 20
	for i := 0; i < len(pending); i += s.batchSize {
		end := min(i+s.batchSize, len(pending))
		if err := s.put(ctx, pending[i:end]); err != nil {
			s.logger.Warn().
				Int("batch_size", end-i).
				Err(err).
				Msg("Failed to flush CloudWatch metrics batch")
			return err
		}
	}

	s.logger.Debug().Int("count", len(pending)).Msg("Flushed CloudWatch metrics")
	return nil
}

// Pending returns the number of buffered data points
func (s *CloudWatchProvider) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.buffer)
}

func (s *CloudWatchProvider) put(ctx context.Context, batch []types.MetricDatum) error {
	_, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: batch,
	})
	return err
}

func (s *CloudWatchProvider) createMetricDatum(name string, value float64, unit types.StandardUnit, dimensions map[string]string) types.MetricDatum {
	datum := types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
	}

	if len(dimensions) > 0 {
		cwDimensions := make([]types.Dimension, 0, len(dimensions))
		for k, v := range dimensions {
			// CloudWatch rejects empty dimension values
			if v == "" {
				v = "unknown"
			}
			cwDimensions = append(cwDimensions, types.Dimension{
				Name:  aws.String(k),
				Value: aws.String(v),
			})
		}
		datum.Dimensions = cwDimensions
	}

	return datum
}

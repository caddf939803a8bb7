package ack

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

// Sync deletes each message as soon as it is acknowledged
type Sync struct {
	deleter Deleter
	queue   contracts.Queue
	metrics metrics.Provider
	logger  zerolog.Logger
}

// NewSync creates a synchronous acknowledger for queue
func NewSync(deleter Deleter, queue contracts.Queue, provider metrics.Provider, logger zerolog.Logger) *Sync {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Sync{
		deleter: deleter,
		queue:   queue,
		metrics: provider,
		logger:  logger.With().Str("component", "ack").Str("queue", queue.Name).Logger(),
	}
}

// Ack deletes the message and returns the deletion error
func (s *Sync) Ack(ctx context.Context, msg *contracts.Message) error {
	if err := s.deleter.Delete(ctx, s.queue.URL, msg.ReceiptHandle); err != nil {
		s.metrics.IncAckErrors(ctx, s.queue.Name, 1)
		s.logger.Warn().
			Err(err).
			Str("message_id", msg.MessageID).
			Msg("Failed to delete message")
		return err
	}
	s.metrics.IncAcknowledged(ctx, s.queue.Name, 1)
	return nil
}

// Start does nothing
func (s *Sync) Start() {}

// Close does nothing
func (s *Sync) Close(context.Context) error { return nil }

var _ Acknowledger = (*Sync)(nil)

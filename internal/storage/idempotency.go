package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/pkg/envelope"
)

const (
	keyProcessed  = "sqslistener:processed:"
	keyProcessing = "sqslistener:processing:"

	// ProcessingTTL bounds how long a crashed consumer holds a processing lock
	ProcessingTTL = 5 * time.Minute
	// ProcessedTTL is how long processed keys stay in Redis
	ProcessedTTL = 7 * 24 * time.Hour
)

// ErrAlreadyProcessing is returned by MarkProcessing when another consumer
// holds the processing lock
var ErrAlreadyProcessing = errors.New("sqslistener: message is already being processed")

// ProcessedEvent is the durable record of a processed message
type ProcessedEvent struct {
	IdempotencyKey string    `gorm:"primaryKey;size:64"`
	Queue          string    `gorm:"size:255;not null"`
	Service        string    `gorm:"size:100"`
	ProcessedAt    time.Time `gorm:"not null;index"`
}

// TableName returns the table name for ProcessedEvent
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// IdempotencyStore records processed messages in Redis and, when a database
// is configured, in the processed_events table.
type IdempotencyStore struct {
	redis  redis.UniversalClient
	db     *gorm.DB
	logger zerolog.Logger
}

// NewIdempotencyStore creates an idempotency store. db may be nil.
func NewIdempotencyStore(redisClient redis.UniversalClient, db *gorm.DB, logger zerolog.Logger) *IdempotencyStore {
	return &IdempotencyStore{
		redis:  redisClient,
		db:     db,
		logger: logger.With().Str("component", "idempotency").Logger(),
	}
}

// IsProcessed reports whether a key was already processed. Redis is checked
// first; the database is the fallback and repopulates Redis on a hit.
func (s *IdempotencyStore) IsProcessed(ctx context.Context, idempotencyKey string) (bool, error) {
	exists, err := s.redis.Exists(ctx, keyProcessed+idempotencyKey).Result()
	if err == nil && exists > 0 {
		return true, nil
	}
	if err != nil {
		if s.db == nil {
			return false, fmt.Errorf("redis check failed: %w", err)
		}
		s.logger.Warn().
			Str("key", idempotencyKey).
			Err(err).
			Msg("Redis check failed, falling back to database")
	}
	if s.db == nil {
		return false, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&ProcessedEvent{}).
		Where("idempotency_key = ?", idempotencyKey).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("database check failed: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	s.redis.Set(ctx, keyProcessed+idempotencyKey, "1", ProcessedTTL)
	return true, nil
}

// MarkProcessing takes the processing lock for a key
func (s *IdempotencyStore) MarkProcessing(ctx context.Context, idempotencyKey string) error {
	set, err := s.redis.SetNX(ctx, keyProcessing+idempotencyKey, "1", ProcessingTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to set processing lock: %w", err)
	}
	if !set {
		return ErrAlreadyProcessing
	}
	return nil
}

// MarkProcessed records a key as processed and releases its lock
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, idempotencyKey, queue, source string) error {
	if err := s.redis.Set(ctx, keyProcessed+idempotencyKey, "1", ProcessedTTL).Err(); err != nil {
		s.logger.Warn().
			Str("key", idempotencyKey).
			Err(err).
			Msg("Failed to set Redis processed key")
	}

	if s.db != nil {
		event := ProcessedEvent{
			IdempotencyKey: idempotencyKey,
			Queue:          queue,
			Service:        source,
			ProcessedAt:    time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
			// duplicate keys are expected on redelivery
			s.logger.Debug().
				Str("key", idempotencyKey).
				Err(err).
				Msg("Processed event not stored")
		}
	}

	return s.ClearProcessing(ctx, idempotencyKey)
}

// ClearProcessing releases the processing lock
func (s *IdempotencyStore) ClearProcessing(ctx context.Context, idempotencyKey string) error {
	return s.redis.Del(ctx, keyProcessing+idempotencyKey).Err()
}

// Cleanup deletes processed event records older than the given age
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s.db == nil {
		return 0, contracts.NewValidationError("cleanup requires a database", nil)
	}

	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&ProcessedEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup failed: %w", result.Error)
	}

	s.logger.Info().
		Int64("deleted", result.RowsAffected).
		Dur("older_than", olderThan).
		Msg("Cleaned up processed events")

	return result.RowsAffected, nil
}

// AutoMigrate creates or updates the processed_events table
func (s *IdempotencyStore) AutoMigrate() error {
	if s.db == nil {
		return nil
	}
	return s.db.AutoMigrate(&ProcessedEvent{})
}

// MessageKey returns the idempotency key of a message and the service that
// published it. Enveloped messages use the envelope key, others their
// message ID.
func MessageKey(msg *contracts.Message) (key, source string) {
	if env, err := envelope.Decode(msg.Body); err == nil && env.IdempotencyKey != "" {
		return env.IdempotencyKey, env.Service
	}
	return "message:" + msg.MessageID, ""
}

// Wrap returns a handler that runs next at most once per idempotency key.
// Messages already processed succeed without calling next, so the pipeline
// deletes them. A message locked by another consumer fails with a transient
// error and is redelivered after its visibility timeout.
func (s *IdempotencyStore) Wrap(queue string, next contracts.Handler) contracts.Handler {
	return func(ctx context.Context, msg *contracts.Message) error {
		key, source := MessageKey(msg)
		logger := s.logger.With().
			Str("queue", queue).
			Str("message_id", msg.MessageID).
			Str("idempotency_key", key).
			Logger()

		processed, err := s.IsProcessed(ctx, key)
		if err != nil {
			return contracts.NewTransientError("idempotency check failed", err)
		}
		if processed {
			logger.Info().Msg("Message already processed, skipping")
			return nil
		}

		if err := s.MarkProcessing(ctx, key); err != nil {
			return contracts.NewTransientError("failed to lock message", err)
		}

		if err := next(ctx, msg); err != nil {
			if clearErr := s.ClearProcessing(context.WithoutCancel(ctx), key); clearErr != nil {
				logger.Warn().Err(clearErr).Msg("Failed to clear processing lock")
			}
			return err
		}

		if err := s.MarkProcessed(context.WithoutCancel(ctx), key, queue, source); err != nil {
			logger.Warn().Err(err).Msg("Failed to mark message as processed")
		}
		return nil
	}
}

var _ contracts.IdempotencyStore = (*IdempotencyStore)(nil)

// Package contracts defines the types and interfaces shared by the listener engine.
package contracts

import (
	"context"
	"time"
)

// Handler processes a single message. Returning nil marks the message for acknowledgement.
type Handler func(ctx context.Context, msg *Message) error

// Interceptor runs before the handler and may return a transformed message.
// Returning an error (or a nil message) vetoes further processing.
type Interceptor func(ctx context.Context, msg *Message) (*Message, error)

// ErrorHandler is invoked when an interceptor or the handler fails.
type ErrorHandler func(ctx context.Context, msg *Message, err error) error

// EventHandler handles the payload of an enveloped event
type EventHandler func(ctx context.Context, payload map[string]any) error

// Acknowledgement deletes the message it is bound to.
// Only the first successful call has an effect.
type Acknowledgement interface {
	// Acknowledge marks the message for deletion
	Acknowledge(ctx context.Context) error
	// IsAcknowledged reports whether an acknowledgement already took place
	IsAcknowledged() bool
}

// Visibility changes the visibility timeout of the message it is bound to.
type Visibility interface {
	// ChangeVisibility sets the remaining visibility timeout of the message
	ChangeVisibility(ctx context.Context, timeout time.Duration) error
}

// Queue is a resolved queue. It is immutable once resolved.
type Queue struct {
	// Name is the queue name, including any configured prefix
	Name string
	// URL is the queue URL used for every API call
	URL string
	// ARN is the queue ARN
	ARN string
	// VisibilityTimeout is the queue's default visibility timeout
	VisibilityTimeout time.Duration
	// Attributes holds every attribute fetched during resolution
	Attributes map[string]string
}

// Attribute returns a queue attribute or an empty string
func (q Queue) Attribute(name string) string {
	return q.Attributes[name]
}

// Cache stores short string values such as resolved queue URLs
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore defines the interface for idempotency checking
type IdempotencyStore interface {
	// IsProcessed checks if a message has already been processed
	IsProcessed(ctx context.Context, idempotencyKey string) (bool, error)
	// MarkProcessing marks a message as currently being processed
	MarkProcessing(ctx context.Context, idempotencyKey string) error
	// MarkProcessed marks a message as successfully processed
	MarkProcessed(ctx context.Context, idempotencyKey, queue, source string) error
	// ClearProcessing removes the processing lock
	ClearProcessing(ctx context.Context, idempotencyKey string) error
}

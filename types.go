package sqslistener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/our-edu/go-sqs-listener/internal/config"
	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/messaging"
	"github.com/our-edu/go-sqs-listener/internal/storage"
)

// Message is a message received from a queue. Handlers acknowledge it or
// change its visibility through Acknowledgement() and Visibility().
type Message = contracts.Message

// MessageAttribute is a custom message attribute
type MessageAttribute = contracts.MessageAttribute

// Queue is a queue resolved when the container starts
type Queue = contracts.Queue

// Acknowledgement deletes the message it is bound to. The first successful
// acknowledgement wins.
type Acknowledgement = contracts.Acknowledgement

// Visibility changes the visibility timeout of the message it is bound to
type Visibility = contracts.Visibility

// Handler processes a message. Returning nil acknowledges the message; an
// error leaves it in the queue and invokes the error handler.
//
// The context carries message metadata accessible via helper functions:
//   - QueueNameFromContext(ctx) - the queue the message was received from
//   - MessageIDFromContext(ctx) - the SQS message ID
//   - ReceiptHandleFromContext(ctx) - the receipt handle of this delivery
//   - EventTypeFromContext(ctx), TraceIDFromContext(ctx) and
//     SourceServiceFromContext(ctx) - set by the Router for enveloped events
type Handler = contracts.Handler

// Interceptor runs before the handler and may replace the message.
// Returning an error or a nil message vetoes processing.
type Interceptor = contracts.Interceptor

// ErrorHandler is called when an interceptor, the handler or a synchronous
// acknowledgement fails. It may acknowledge the message explicitly.
type ErrorHandler = contracts.ErrorHandler

// EventHandler handles the payload of an enveloped event
type EventHandler = contracts.EventHandler

// Router dispatches enveloped messages to handlers by event type.
// Use its Handle method as a listener handler.
type Router = messaging.Router

// NewRouter creates an empty event router
func NewRouter() *Router {
	return messaging.NewRouter()
}

// AckMode selects how successfully processed messages are deleted
type AckMode = config.AckMode

// Acknowledgement modes
const (
	AckModeSync  = config.AckModeSync
	AckModeAsync = config.AckModeAsync
)

// DeliveryMode selects how a received batch is handed to the handler
type DeliveryMode = config.DeliveryMode

// Delivery modes
const (
	DeliveryConcurrent = config.DeliveryConcurrent
	DeliveryOrdered    = config.DeliveryOrdered
)

// Context keys for message metadata
const (
	ContextKeyQueueName     = contracts.ContextKeyQueueName
	ContextKeyMessageID     = contracts.ContextKeyMessageID
	ContextKeyReceiptHandle = contracts.ContextKeyReceiptHandle
	ContextKeyEventType     = contracts.ContextKeyEventType
	ContextKeyTraceID       = contracts.ContextKeyTraceID
	ContextKeySourceService = contracts.ContextKeySourceService
)

// QueueNameFromContext returns the queue name from the context.
// Returns empty string if not set.
func QueueNameFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeyQueueName)
}

// MessageIDFromContext returns the message ID from the context.
// Returns empty string if not set.
func MessageIDFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeyMessageID)
}

// ReceiptHandleFromContext returns the receipt handle of the delivery being processed.
// Returns empty string if not set.
func ReceiptHandleFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeyReceiptHandle)
}

// EventTypeFromContext returns the event type from the context.
// Returns empty string if not set.
func EventTypeFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeyEventType)
}

// TraceIDFromContext returns the trace ID from the context.
// Returns empty string if not set.
func TraceIDFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeyTraceID)
}

// SourceServiceFromContext returns the service that published the message.
// Returns empty string if not set.
func SourceServiceFromContext(ctx context.Context) string {
	return contracts.StringFromContext(ctx, ContextKeySourceService)
}

// State is the lifecycle state of a container
type State int

const (
	// StateCreated is the state of a container that was never started
	StateCreated State = iota
	// StateStarted is the state of a running container
	StateStarted
	// StateStopped is the state of a stopped container; it may be started again
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Common errors
var (
	// ErrContainerRunning is returned when listeners are changed on a started container
	ErrContainerRunning = errors.New("sqslistener: container is running")

	// ErrListenerNotFound is returned when no listener is registered for a queue
	ErrListenerNotFound = errors.New("sqslistener: no listener registered for queue")

	// ErrNilHandler is returned when a listener is registered without a handler
	ErrNilHandler = errors.New("sqslistener: handler is nil")

	// ErrNoListeners is returned when a container without listeners is started
	ErrNoListeners = errors.New("sqslistener: no listeners registered")

	// ErrPartialShutdown is returned when in-flight messages were abandoned on stop
	ErrPartialShutdown = errors.New("sqslistener: shutdown timed out with messages in flight")

	// ErrIdempotencyNotConfigured is returned when idempotent processing is
	// requested without Redis
	ErrIdempotencyNotConfigured = errors.New("sqslistener: idempotent processing requires Redis - use WithRedis() or WithRedisClient()")

	// ErrQueueNotFound is returned when a queue cannot be resolved
	ErrQueueNotFound = contracts.ErrQueueNotFound

	// ErrNoHandler is returned by the Router when no handler is registered for an event type
	ErrNoHandler = contracts.ErrNoHandler

	// ErrInvalidEnvelope is returned by the Router for messages without a valid envelope
	ErrInvalidEnvelope = contracts.ErrInvalidEnvelope

	// ErrMessageVetoed is passed to the error handler when an interceptor vetoes a message
	ErrMessageVetoed = contracts.ErrMessageVetoed

	// ErrRedisConnectionFailed is returned when Redis does not answer a ping
	ErrRedisConnectionFailed = storage.ErrRedisConnectionFailed
)

// PartialShutdownError reports the messages abandoned per queue when Stop
// timed out. Abandoned messages were not acknowledged and become visible
// again after their visibility timeout.
type PartialShutdownError struct {
	Abandoned map[string]int
}

func (e *PartialShutdownError) Error() string {
	queues := make([]string, 0, len(e.Abandoned))
	for q := range e.Abandoned {
		queues = append(queues, q)
	}
	sort.Strings(queues)

	parts := make([]string, len(queues))
	for i, q := range queues {
		parts[i] = fmt.Sprintf("%s=%d", q, e.Abandoned[q])
	}
	return fmt.Sprintf("%s: abandoned %d message(s) [%s]", ErrPartialShutdown.Error(), e.Total(), strings.Join(parts, " "))
}

// Is matches ErrPartialShutdown
func (e *PartialShutdownError) Is(target error) bool {
	return target == ErrPartialShutdown
}

// Total returns the number of abandoned messages across all queues
func (e *PartialShutdownError) Total() int {
	total := 0
	for _, n := range e.Abandoned {
		total += n
	}
	return total
}

// ErrorType represents the classification of an error
type ErrorType = contracts.ErrorType

// Error classifications
const (
	ErrorTypeUnknown    = contracts.ErrorTypeUnknown
	ErrorTypeValidation = contracts.ErrorTypeValidation
	ErrorTypeTransient  = contracts.ErrorTypeTransient
	ErrorTypePermanent  = contracts.ErrorTypePermanent
)

// ValidationError represents an invalid option, registration or configuration
type ValidationError = contracts.ValidationError

// TransientError represents a failure that may succeed on retry
type TransientError = contracts.TransientError

// PermanentError represents a failure that will not succeed on retry
type PermanentError = contracts.PermanentError

// NewValidationError creates a new validation error.
func NewValidationError(msg string, cause error) *ValidationError {
	return contracts.NewValidationError(msg, cause)
}

// NewTransientError creates a new transient error.
func NewTransientError(msg string, cause error) *TransientError {
	return contracts.NewTransientError(msg, cause)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(msg string, cause error) *PermanentError {
	return contracts.NewPermanentError(msg, cause)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	return contracts.IsValidationError(err)
}

// IsTransientError checks if an error is a transient error.
func IsTransientError(err error) bool {
	return contracts.IsTransientError(err)
}

// IsPermanentError checks if an error is a permanent error.
func IsPermanentError(err error) bool {
	return contracts.IsPermanentError(err)
}

// ClassifyError returns the error type for the given error.
func ClassifyError(err error) ErrorType {
	return contracts.ClassifyError(err)
}

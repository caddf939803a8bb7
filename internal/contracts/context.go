package contracts

import "context"

// ContextKey is the type of the context keys carrying message metadata
type ContextKey string

const (
	// ContextKeyQueueName is the context key for the queue name
	ContextKeyQueueName ContextKey = "sqslistener.queue_name"
	// ContextKeyMessageID is the context key for the message ID
	ContextKeyMessageID ContextKey = "sqslistener.message_id"
	// ContextKeyReceiptHandle is the context key for the receipt handle of the delivery
	ContextKeyReceiptHandle ContextKey = "sqslistener.receipt_handle"
	// ContextKeyEventType is the context key for the event type
	ContextKeyEventType ContextKey = "sqslistener.event_type"
	// ContextKeyTraceID is the context key for the trace ID
	ContextKeyTraceID ContextKey = "sqslistener.trace_id"
	// ContextKeySourceService is the context key for the service that published the message
	ContextKeySourceService ContextKey = "sqslistener.source_service"
)

// WithMessage returns a context carrying the queue name, message ID and receipt handle of msg.
func WithMessage(ctx context.Context, msg *Message) context.Context {
	ctx = context.WithValue(ctx, ContextKeyQueueName, msg.QueueName)
	ctx = context.WithValue(ctx, ContextKeyMessageID, msg.MessageID)
	return context.WithValue(ctx, ContextKeyReceiptHandle, msg.ReceiptHandle)
}

// StringFromContext returns the string stored under key, or an empty string.
func StringFromContext(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// Package messaging dispatches enveloped events to per-event-type handlers.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/pkg/envelope"
)

// Router is a message handler that decodes the envelope of a message and
// calls the handler registered for its event type.
type Router struct {
	handlers map[string]contracts.EventHandler
	fallback contracts.Handler
	mutex    sync.RWMutex
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]contracts.EventHandler),
	}
}

// Register registers a handler for an event type, replacing any previous one
func (r *Router) Register(eventType string, handler contracts.EventHandler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[eventType] = handler
}

// Fallback sets the handler for event types without a registered handler
func (r *Router) Fallback(handler contracts.Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.fallback = handler
}

// HandlerFor returns the handler registered for an event type
func (r *Router) HandlerFor(eventType string) (contracts.EventHandler, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	handler, ok := r.handlers[eventType]
	return handler, ok
}

// EventTypes returns the registered event types in sorted order
func (r *Router) EventTypes() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Handle decodes msg and dispatches its payload. Malformed envelopes and
// unknown event types are permanent errors.
func (r *Router) Handle(ctx context.Context, msg *contracts.Message) error {
	env, err := envelope.Parse(msg.Body)
	if err != nil {
		return contracts.NewPermanentError("failed to decode message", fmt.Errorf("%w: %w", contracts.ErrInvalidEnvelope, err))
	}

	ctx = context.WithValue(ctx, contracts.ContextKeyEventType, env.EventType)
	ctx = context.WithValue(ctx, contracts.ContextKeyTraceID, env.TraceID)
	ctx = context.WithValue(ctx, contracts.ContextKeySourceService, env.Service)

	r.mutex.RLock()
	handler, ok := r.handlers[env.EventType]
	fallback := r.fallback
	r.mutex.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback(ctx, msg)
		}
		return contracts.NewPermanentError("no handler for event type "+env.EventType, contracts.ErrNoHandler)
	}

	return handler(ctx, env.Payload)
}

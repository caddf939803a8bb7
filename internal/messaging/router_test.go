package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/pkg/envelope"
)

func enveloped(t *testing.T, eventType string, payload map[string]any) *contracts.Message {
	t.Helper()
	body, err := envelope.Wrap(eventType, payload, "orders-service").Encode()
	if err != nil {
		t.Fatalf("failed to encode envelope: %v", err)
	}
	return &contracts.Message{MessageID: "m-1", Body: body}
}

func TestRouter_DispatchesByEventType(t *testing.T) {
	router := NewRouter()

	var got map[string]any
	var eventType, service, traceID string
	router.Register("OrderCreated", func(ctx context.Context, payload map[string]any) error {
		got = payload
		eventType = contracts.StringFromContext(ctx, contracts.ContextKeyEventType)
		service = contracts.StringFromContext(ctx, contracts.ContextKeySourceService)
		traceID = contracts.StringFromContext(ctx, contracts.ContextKeyTraceID)
		return nil
	})
	router.Register("OrderCancelled", func(context.Context, map[string]any) error {
		t.Error("unexpected handler called")
		return nil
	})

	msg := enveloped(t, "OrderCreated", map[string]any{"order_id": "42", "trace_id": "trace-1"})
	if err := router.Handle(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["order_id"] != "42" {
		t.Errorf("expected order_id '42', got '%v'", got["order_id"])
	}
	if eventType != "OrderCreated" {
		t.Errorf("expected event type 'OrderCreated', got '%s'", eventType)
	}
	if service != "orders-service" {
		t.Errorf("expected service 'orders-service', got '%s'", service)
	}
	if traceID != "trace-1" {
		t.Errorf("expected trace id 'trace-1', got '%s'", traceID)
	}
}

func TestRouter_HandlerErrorIsReturned(t *testing.T) {
	router := NewRouter()
	boom := errors.New("boom")
	router.Register("OrderCreated", func(context.Context, map[string]any) error { return boom })

	err := router.Handle(context.Background(), enveloped(t, "OrderCreated", map[string]any{}))
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRouter_UnknownEventType(t *testing.T) {
	router := NewRouter()

	err := router.Handle(context.Background(), enveloped(t, "Unknown", map[string]any{}))
	if !errors.Is(err, contracts.ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
	if !contracts.IsPermanentError(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestRouter_Fallback(t *testing.T) {
	router := NewRouter()
	var fallbackType string
	router.Fallback(func(ctx context.Context, _ *contracts.Message) error {
		fallbackType = contracts.StringFromContext(ctx, contracts.ContextKeyEventType)
		return nil
	})

	if err := router.Handle(context.Background(), enveloped(t, "Unknown", map[string]any{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallbackType != "Unknown" {
		t.Errorf("expected fallback to see event type 'Unknown', got '%s'", fallbackType)
	}
}

func TestRouter_InvalidEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "hello"},
		{"missing fields", `{"event_type":"OrderCreated"}`},
	}

	router := NewRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := router.Handle(context.Background(), &contracts.Message{Body: tt.body})
			if !errors.Is(err, contracts.ErrInvalidEnvelope) {
				t.Errorf("expected ErrInvalidEnvelope, got %v", err)
			}
			if !contracts.IsPermanentError(err) {
				t.Errorf("expected permanent error, got %v", err)
			}
		})
	}
}

func TestRouter_RegisterOverwrites(t *testing.T) {
	router := NewRouter()
	calls := 0
	router.Register("OrderCreated", func(context.Context, map[string]any) error {
		calls = 1
		return nil
	})
	router.Register("OrderCreated", func(context.Context, map[string]any) error {
		calls = 2
		return nil
	})

	h, ok := router.HandlerFor("OrderCreated")
	if !ok {
		t.Fatal("expected handler to be registered")
	}
	_ = h(context.Background(), nil)
	if calls != 2 {
		t.Errorf("expected second handler to be called, got %d", calls)
	}
}

func TestRouter_EventTypes(t *testing.T) {
	router := NewRouter()
	router.Register("B", func(context.Context, map[string]any) error { return nil })
	router.Register("A", func(context.Context, map[string]any) error { return nil })

	types := router.EventTypes()
	if len(types) != 2 || types[0] != "A" || types[1] != "B" {
		t.Errorf("expected [A B], got %v", types)
	}
}

func TestRouter_ConcurrentAccess(t *testing.T) {
	router := NewRouter()
	msg := enveloped(t, "OrderCreated", map[string]any{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			router.Register("OrderCreated", func(context.Context, map[string]any) error { return nil })
		}()
		go func() {
			defer wg.Done()
			_ = router.Handle(context.Background(), msg)
		}()
	}
	wg.Wait()
}

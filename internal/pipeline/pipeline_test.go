package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked []string
	err   error
}

func (f *fakeAcker) Ack(_ context.Context, msg *contracts.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.acked = append(f.acked, msg.MessageID)
	return nil
}

func (f *fakeAcker) Start() {}

func (f *fakeAcker) Close(context.Context) error { return nil }

func (f *fakeAcker) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]bool
	changes []time.Duration
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{tracked: map[string]bool{}}
}

func (f *fakeTracker) Track(msg *contracts.Message) func() {
	f.mu.Lock()
	f.tracked[msg.ReceiptHandle] = true
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.tracked, msg.ReceiptHandle)
		f.mu.Unlock()
	}
}

func (f *fakeTracker) ForMessage(*contracts.Message) contracts.Visibility {
	return visibilityFunc(func(_ context.Context, d time.Duration) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.changes = append(f.changes, d)
		return nil
	})
}

func (f *fakeTracker) isTracked(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracked[handle]
}

type visibilityFunc func(ctx context.Context, d time.Duration) error

func (f visibilityFunc) ChangeVisibility(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

type recordingMetrics struct {
	*metrics.NoopProvider
	mu       sync.Mutex
	statuses []string
}

func (r *recordingMetrics) IncMessagesProcessed(_ context.Context, _, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingMetrics) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

type harness struct {
	acker     *fakeAcker
	tracker   *fakeTracker
	metrics   *recordingMetrics
	completed []*contracts.Message
	pc        *contracts.ProcessingContext
}

func newHarness() *harness {
	h := &harness{
		acker:   &fakeAcker{},
		tracker: newFakeTracker(),
		metrics: &recordingMetrics{NoopProvider: metrics.NewNoopProvider()},
	}
	h.pc = contracts.NewProcessingContext("orders", 1, func(msg *contracts.Message) {
		h.completed = append(h.completed, msg)
	})
	return h
}

func (h *harness) pipeline(handler contracts.Handler, interceptors ...contracts.Interceptor) *Pipeline {
	return h.pipelineWithErrors(handler, nil, interceptors...)
}

func (h *harness) pipelineWithErrors(handler contracts.Handler, errorHandler contracts.ErrorHandler, interceptors ...contracts.Interceptor) *Pipeline {
	return New(Config{
		Queue:        contracts.Queue{Name: "orders", URL: "https://sqs.local/orders"},
		Handler:      handler,
		Interceptors: interceptors,
		ErrorHandler: errorHandler,
		Acknowledger: h.acker,
		Tracker:      h.tracker,
		Metrics:      h.metrics,
		Logger:       zerolog.Nop(),
	})
}

func testMessage() *contracts.Message {
	return &contracts.Message{
		MessageID:     "m-1",
		ReceiptHandle: "rh-1",
		Body:          `{"hello":"world"}`,
		QueueName:     "orders",
	}
}

func TestPipeline_SuccessAcknowledges(t *testing.T) {
	h := newHarness()
	msg := testMessage()

	var seenQueue, seenID string
	var trackedDuring bool
	p := h.pipeline(func(ctx context.Context, m *contracts.Message) error {
		seenQueue = contracts.StringFromContext(ctx, contracts.ContextKeyQueueName)
		seenID = contracts.StringFromContext(ctx, contracts.ContextKeyMessageID)
		trackedDuring = h.tracker.isTracked(m.ReceiptHandle)
		return nil
	})

	p.Process(context.Background(), msg, h.pc)

	assert.Equal(t, "orders", seenQueue)
	assert.Equal(t, "m-1", seenID)
	assert.True(t, trackedDuring)
	assert.False(t, h.tracker.isTracked("rh-1"))
	assert.Equal(t, []string{"m-1"}, h.acker.ids())
	assert.True(t, msg.Acknowledgement().IsAcknowledged())
	assert.Equal(t, metrics.StatusSuccess, h.metrics.last())
	assert.Len(t, h.completed, 1)
}

func TestPipeline_HandlerErrorDoesNotAcknowledge(t *testing.T) {
	h := newHarness()
	boom := errors.New("boom")

	var handled error
	p := h.pipelineWithErrors(
		func(context.Context, *contracts.Message) error { return boom },
		func(_ context.Context, _ *contracts.Message, err error) error {
			handled = err
			return nil
		},
	)

	p.Process(context.Background(), testMessage(), h.pc)

	assert.ErrorIs(t, handled, boom)
	assert.Empty(t, h.acker.ids())
	assert.Equal(t, metrics.StatusFailed, h.metrics.last())
	assert.Len(t, h.completed, 1)
}

func TestPipeline_ErrorHandlerMayAcknowledge(t *testing.T) {
	h := newHarness()
	p := h.pipelineWithErrors(
		func(context.Context, *contracts.Message) error { return errors.New("poison") },
		func(ctx context.Context, msg *contracts.Message, _ error) error {
			return msg.Acknowledgement().Acknowledge(ctx)
		},
	)

	p.Process(context.Background(), testMessage(), h.pc)

	assert.Equal(t, []string{"m-1"}, h.acker.ids())
	assert.Equal(t, metrics.StatusFailed, h.metrics.last())
}

func TestPipeline_InterceptorTransformsMessage(t *testing.T) {
	h := newHarness()

	var body string
	p := h.pipeline(
		func(_ context.Context, m *contracts.Message) error {
			body = m.Body
			return nil
		},
		func(_ context.Context, m *contracts.Message) (*contracts.Message, error) {
			return m.WithBody("first"), nil
		},
		func(_ context.Context, m *contracts.Message) (*contracts.Message, error) {
			// a fresh message without capabilities is rebound to the delivery
			return &contracts.Message{MessageID: m.MessageID, Body: m.Body + "+second"}, nil
		},
	)

	p.Process(context.Background(), testMessage(), h.pc)

	assert.Equal(t, "first+second", body)
	assert.Equal(t, []string{"m-1"}, h.acker.ids())
}

func TestPipeline_InterceptorVeto(t *testing.T) {
	h := newHarness()
	called := false

	var handled error
	p := h.pipelineWithErrors(
		func(context.Context, *contracts.Message) error {
			called = true
			return nil
		},
		func(_ context.Context, _ *contracts.Message, err error) error {
			handled = err
			return nil
		},
		func(context.Context, *contracts.Message) (*contracts.Message, error) { return nil, nil },
	)

	p.Process(context.Background(), testMessage(), h.pc)

	assert.False(t, called)
	assert.ErrorIs(t, handled, contracts.ErrMessageVetoed)
	assert.Empty(t, h.acker.ids())
	assert.Equal(t, metrics.StatusVetoed, h.metrics.last())
}

func TestPipeline_HandlerPanicIsRecovered(t *testing.T) {
	h := newHarness()
	p := h.pipeline(func(context.Context, *contracts.Message) error {
		panic("nil map")
	})

	require.NotPanics(t, func() {
		p.Process(context.Background(), testMessage(), h.pc)
	})

	assert.Empty(t, h.acker.ids())
	assert.Equal(t, metrics.StatusFailed, h.metrics.last())
	assert.Len(t, h.completed, 1)
}

func TestPipeline_ErrorHandlerPanicIsRecovered(t *testing.T) {
	h := newHarness()
	p := h.pipelineWithErrors(
		func(context.Context, *contracts.Message) error { return errors.New("boom") },
		func(context.Context, *contracts.Message, error) error { panic("handler bug") },
	)

	require.NotPanics(t, func() {
		p.Process(context.Background(), testMessage(), h.pc)
	})
	assert.Len(t, h.completed, 1)
}

func TestPipeline_AbandonedMessageIsNotAcknowledged(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	p := h.pipeline(func(context.Context, *contracts.Message) error {
		cancel()
		return nil
	})

	p.Process(ctx, testMessage(), h.pc)

	assert.Empty(t, h.acker.ids())
	assert.Equal(t, metrics.StatusAbandoned, h.metrics.last())
	assert.Len(t, h.completed, 1)
}

func TestPipeline_AcknowledgeFailureIsReported(t *testing.T) {
	h := newHarness()
	h.acker.err = errors.New("throttled")

	var handled error
	p := h.pipelineWithErrors(
		func(context.Context, *contracts.Message) error { return nil },
		func(_ context.Context, _ *contracts.Message, err error) error {
			handled = err
			return nil
		},
	)

	msg := testMessage()
	p.Process(context.Background(), msg, h.pc)

	require.Error(t, handled)
	assert.Contains(t, handled.Error(), "throttled")
	assert.False(t, msg.Acknowledgement().IsAcknowledged())
	assert.Equal(t, metrics.StatusFailed, h.metrics.last())
}

func TestPipeline_VisibilityIsBound(t *testing.T) {
	h := newHarness()
	p := h.pipeline(func(ctx context.Context, m *contracts.Message) error {
		return m.Visibility().ChangeVisibility(ctx, 2*time.Minute)
	})

	p.Process(context.Background(), testMessage(), h.pc)

	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	assert.Equal(t, []time.Duration{2 * time.Minute}, h.tracker.changes)
}

func TestPipeline_RecordsConsumerSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newHarness()
	boom := errors.New("boom")
	p := New(Config{
		Queue:        contracts.Queue{Name: "orders"},
		Handler:      func(context.Context, *contracts.Message) error { return boom },
		Acknowledger: h.acker,
		Metrics:      h.metrics,
		Tracer:       tp.Tracer(TracerName),
		Logger:       zerolog.Nop(),
	})

	p.Process(context.Background(), testMessage(), h.pc)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "sqslistener.Process", span.Name())
	assert.Equal(t, trace.SpanKindConsumer, span.SpanKind())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Attributes(), attribute.String("messaging.destination.name", "orders"))
	assert.Contains(t, span.Attributes(), attribute.String("messaging.message.id", "m-1"))
	assert.Contains(t, span.Attributes(), attribute.String("sqslistener.status", metrics.StatusFailed))
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)
}

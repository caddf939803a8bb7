// Package pipeline runs a received message through interceptors, the
// listener, the error handler and acknowledgement.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/our-edu/go-sqs-listener/internal/ack"
	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

// TracerName is the instrumentation name of the pipeline spans
const TracerName = "github.com/our-edu/go-sqs-listener"

// Tracker tracks in-flight messages for visibility extension
type Tracker interface {
	Track(msg *contracts.Message) func()
	ForMessage(msg *contracts.Message) contracts.Visibility
}

// Config holds the collaborators of a pipeline
type Config struct {
	Queue        contracts.Queue
	Handler      contracts.Handler
	Interceptors []contracts.Interceptor
	ErrorHandler contracts.ErrorHandler
	Acknowledger ack.Acknowledger
	Tracker      Tracker
	Metrics      metrics.Provider
	Tracer       trace.Tracer
	Logger       zerolog.Logger
}

// Pipeline processes the messages of one queue
type Pipeline struct {
	queue        contracts.Queue
	handler      contracts.Handler
	interceptors []contracts.Interceptor
	errorHandler contracts.ErrorHandler
	acker        ack.Acknowledger
	tracker      Tracker
	metrics      metrics.Provider
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// New creates a pipeline
func New(cfg Config) *Pipeline {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(TracerName)
	}
	return &Pipeline{
		queue:        cfg.Queue,
		handler:      cfg.Handler,
		interceptors: append([]contracts.Interceptor(nil), cfg.Interceptors...),
		errorHandler: cfg.ErrorHandler,
		acker:        cfg.Acknowledger,
		tracker:      cfg.Tracker,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       cfg.Logger.With().Str("component", "pipeline").Str("queue", cfg.Queue.Name).Logger(),
	}
}

// Process runs msg through the pipeline. It always completes msg on pc,
// which releases the in-flight permit of the message.
func (p *Pipeline) Process(ctx context.Context, msg *contracts.Message, pc *contracts.ProcessingContext) {
	start := time.Now()
	defer pc.Complete(msg)

	var visibility contracts.Visibility
	if p.tracker != nil {
		untrack := p.tracker.Track(msg)
		defer untrack()
		visibility = p.tracker.ForMessage(msg)
	}
	msg.Bind(ack.NewCallback(p.acker, msg), visibility)

	ctx, span := p.tracer.Start(ctx, "sqslistener.Process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sqs"),
			attribute.String("messaging.destination.name", p.queue.Name),
			attribute.String("messaging.message.id", msg.MessageID),
			attribute.String("messaging.batch.id", pc.ID),
		),
	)
	defer span.End()

	ctx = contracts.WithMessage(ctx, msg)
	logger := p.logger.With().Str("message_id", msg.MessageID).Logger()

	status := metrics.StatusSuccess
	current, err := p.invoke(ctx, msg)
	if err == nil {
		if ctx.Err() != nil {
			// abandoned on shutdown; the message becomes visible again
			status = metrics.StatusAbandoned
			logger.Warn().Msg("Processing finished after the message was abandoned, not acknowledging")
		} else if ackErr := msg.Acknowledgement().Acknowledge(ctx); ackErr != nil {
			err = fmt.Errorf("failed to acknowledge message: %w", ackErr)
		}
	}

	if err != nil {
		status = metrics.StatusFailed
		if errors.Is(err, contracts.ErrMessageVetoed) {
			status = metrics.StatusVetoed
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.handleError(ctx, logger, current, err)
	}

	duration := time.Since(start)
	span.SetAttributes(attribute.String("sqslistener.status", status))
	p.metrics.IncMessagesProcessed(ctx, p.queue.Name, status)
	p.metrics.ObserveProcessingDuration(ctx, p.queue.Name, float64(duration.Milliseconds()))

	logger.Debug().
		Str("status", status).
		Dur("duration", duration).
		Msg("Processed message")
}

// invoke runs the interceptors and the handler. It returns the message as
// last seen by the chain.
func (p *Pipeline) invoke(ctx context.Context, msg *contracts.Message) (current *contracts.Message, err error) {
	current = msg
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing message: %v", r)
		}
	}()

	for _, interceptor := range p.interceptors {
		next, interceptErr := interceptor(ctx, current)
		if interceptErr != nil {
			return current, interceptErr
		}
		if next == nil {
			return current, contracts.ErrMessageVetoed
		}
		if !next.Bound() {
			next.Bind(msg.Acknowledgement(), msg.Visibility())
		}
		current = next
	}

	return current, p.handler(ctx, current)
}

func (p *Pipeline) handleError(ctx context.Context, logger zerolog.Logger, msg *contracts.Message, err error) {
	if p.errorHandler == nil {
		logger.Error().
			Err(err).
			Str("error_type", contracts.ClassifyError(err).String()).
			Msg("Failed to process message")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Msg("Error handler panicked")
		}
	}()

	if handlerErr := p.errorHandler(ctx, msg, err); handlerErr != nil {
		logger.Error().
			Err(handlerErr).
			AnErr("cause", err).
			Msg("Error handler failed")
		return
	}

	logger.Debug().
		Err(err).
		Bool("acknowledged", msg.Acknowledgement().IsAcknowledged()).
		Msg("Error handler completed")
}

package sqslistener

import (
	"context"

	"github.com/our-edu/go-sqs-listener/internal/ack"
	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/permit"
	"github.com/our-edu/go-sqs-listener/internal/pipeline"
	"github.com/our-edu/go-sqs-listener/internal/sink"
	"github.com/our-edu/go-sqs-listener/internal/source"
	"github.com/our-edu/go-sqs-listener/internal/visibility"
)

// listener is the registration of a handler for one queue. The runtime
// components are rebuilt on every start.
type listener struct {
	queue        string
	handler      Handler
	opts         listenerOptions
	interceptors []Interceptor
	errorHandler ErrorHandler

	resolved Queue
	permits  *permit.Controller
	acker    ack.Acknowledger
	extender *visibility.Extender
	source   *source.Source
}

// build wires the components of a resolved queue
func (l *listener) build(c *Container, q Queue) {
	l.resolved = q
	o := l.opts

	l.permits = permit.New(o.maxInFlight)

	switch o.ackMode {
	case AckModeAsync:
		l.acker = ack.NewAsync(c.client, q, o.ackBatchSize, o.ackInterval, c.metrics, c.logger)
	default:
		l.acker = ack.NewSync(c.client, q, c.metrics, c.logger)
	}

	var tracker pipeline.Tracker
	l.extender = nil
	if !o.extensionDisabled {
		l.extender = visibility.New(c.client, q, l.extensionConfig(q), c.metrics, c.logger)
		tracker = l.extender
	}

	handler := l.handler
	if o.idempotent {
		handler = c.idempotency.Wrap(q.Name, handler)
	}

	p := pipeline.New(pipeline.Config{
		Queue:        q,
		Handler:      handler,
		Interceptors: append([]contracts.Interceptor(nil), l.interceptors...),
		ErrorHandler: l.errorHandler,
		Acknowledger: l.acker,
		Tracker:      tracker,
		Metrics:      c.metrics,
		Tracer:       c.tracer,
		Logger:       c.logger,
	})

	var s sink.Sink
	if o.deliveryMode == DeliveryOrdered {
		s = sink.NewOrdered(p)
	} else {
		concurrency := o.concurrency
		if concurrency == 0 {
			concurrency = o.messagesPerPoll
		}
		s = sink.NewConcurrent(p, concurrency)
	}

	l.source = source.New(source.Config{
		Queue:                q,
		Receiver:             c.client,
		Permits:              l.permits,
		Sink:                 s,
		MessagesPerPoll:      o.messagesPerPoll,
		PollTimeout:          o.pollTimeout,
		PermitAcquireTimeout: o.permitAcquireTimeout,
		Visibility:           o.messageVisibility,
		Backoff:              o.errorBackoff,
		Metrics:              c.metrics,
		Logger:               c.logger,
	})
}

func (l *listener) extensionConfig(q Queue) visibility.Config {
	cfg := l.opts.extension
	cfg.Visibility = l.opts.messageVisibility
	return cfg.ForQueue(q)
}

// validate checks the options that depend on the resolved queue
func (l *listener) validate(q Queue) error {
	if l.opts.extensionDisabled {
		return nil
	}
	return l.extensionConfig(q).Validate()
}

func (l *listener) start(processCtx context.Context) {
	l.acker.Start()
	if l.extender != nil {
		l.extender.Start()
	}
	l.source.Start(processCtx)
}

// Package visibility keeps in-flight messages invisible while they are processed.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

const (
	// DefaultVisibility is used when the queue did not report a visibility timeout
	DefaultVisibility = 30 * time.Second
	// DefaultMaxExtension is the SQS ceiling for the total visibility of a message
	DefaultMaxExtension = 12 * time.Hour

	minInterval       = time.Second
	extendConcurrency = 3
)

// ErrInvalidConfig is returned by Config.Validate when messages could expire
// between two extension rounds.
var ErrInvalidConfig = errors.New("sqslistener: invalid visibility extension")

// Changer changes the visibility timeout of a delivery
type Changer interface {
	ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeout time.Duration) error
}

// Config configures an Extender. Zero values select the defaults.
type Config struct {
	// Visibility is the timeout set on every extension
	Visibility time.Duration
	// Interval between extension rounds (default Visibility/3, at least 1s
	// when the visibility allows it)
	Interval time.Duration
	// Threshold is the time since receipt after which a message is extended
	// on every round (default Interval)
	Threshold time.Duration
	// MaxExtension stops extending messages received longer ago than this
	MaxExtension time.Duration
}

// ForQueue returns the effective configuration for queue: a zero Visibility
// takes the queue's visibility timeout and the remaining zero values their
// defaults.
func (c Config) ForQueue(queue contracts.Queue) Config {
	if c.Visibility <= 0 {
		c.Visibility = queue.VisibilityTimeout
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Visibility <= 0 {
		c.Visibility = DefaultVisibility
	}
	if c.Interval <= 0 {
		c.Interval = max(c.Visibility/3, minInterval)
		if 2*c.Interval >= c.Visibility {
			c.Interval = c.Visibility / 3
		}
	}
	if c.Threshold <= 0 {
		c.Threshold = c.Interval
	}
	if c.MaxExtension <= 0 {
		c.MaxExtension = DefaultMaxExtension
	}
	return c
}

// Validate reports whether a message received now is extended before its
// visibility expires. The first extension happens at most Threshold plus
// Interval after receipt and every Interval after that.
func (c Config) Validate() error {
	if c.Interval >= c.Visibility {
		return fmt.Errorf("%w: interval %s is not shorter than the visibility timeout %s",
			ErrInvalidConfig, c.Interval, c.Visibility)
	}
	if c.Threshold+c.Interval >= c.Visibility {
		return fmt.Errorf("%w: threshold %s plus interval %s is not shorter than the visibility timeout %s",
			ErrInvalidConfig, c.Threshold, c.Interval, c.Visibility)
	}
	return nil
}

type tracked struct {
	msg        *contracts.Message
	receivedAt time.Time

	// guarded by Extender.mu; zero until the first extension
	lastExtended time.Time

	// held while an extension is in progress; untrack waits on it
	mu   sync.Mutex
	done bool
}

// Extender periodically extends the visibility of the messages of one queue
// while they are being processed.
type Extender struct {
	changer Changer
	queue   contracts.Queue
	cfg     Config
	metrics metrics.Provider
	logger  zerolog.Logger

	mu       sync.Mutex
	inFlight map[*contracts.Message]*tracked
	cancel   context.CancelFunc
	stopped  chan struct{}
}

// New creates an extender for queue
func New(changer Changer, queue contracts.Queue, cfg Config, provider metrics.Provider, logger zerolog.Logger) *Extender {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Extender{
		changer:  changer,
		queue:    queue,
		cfg:      cfg.ForQueue(queue),
		metrics:  provider,
		logger:   logger.With().Str("component", "visibility_extender").Str("queue", queue.Name).Logger(),
		inFlight: make(map[*contracts.Message]*tracked),
	}
}

// Config returns the effective configuration
func (e *Extender) Config() Config {
	return e.cfg
}

// Start launches the extension loop. It runs until Stop is called.
func (e *Extender) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.stopped = make(chan struct{})
	go e.run(ctx, e.stopped)
}

// Stop ends the extension loop and waits for in-progress extensions
func (e *Extender) Stop() {
	e.mu.Lock()
	cancel, stopped := e.cancel, e.stopped
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Track registers msg for extension. The returned func removes it; once it
// returns no further extension of msg starts.
func (e *Extender) Track(msg *contracts.Message) func() {
	received := msg.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	t := &tracked{msg: msg, receivedAt: received}

	e.mu.Lock()
	e.inFlight[msg] = t
	e.mu.Unlock()

	return func() {
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()

		e.mu.Lock()
		delete(e.inFlight, msg)
		e.mu.Unlock()
	}
}

// InFlight returns the number of tracked messages
func (e *Extender) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

func (e *Extender) run(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	e.logger.Debug().
		Dur("interval", e.cfg.Interval).
		Dur("visibility", e.cfg.Visibility).
		Msg("Visibility extender started")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.extendDue(ctx)
		}
	}
}

// extendDue extends every message in flight for longer than the threshold.
// A message extended out of band less than half an interval ago is skipped.
func (e *Extender) extendDue(ctx context.Context) {
	now := time.Now()
	var due []*tracked

	e.mu.Lock()
	for msg, t := range e.inFlight {
		if now.Sub(t.receivedAt)+e.cfg.Visibility >= e.cfg.MaxExtension {
			e.logger.Error().
				Str("message_id", msg.MessageID).
				Msg("Message has reached maximum visibility extension, no longer extending")
			delete(e.inFlight, msg)
			continue
		}
		if now.Sub(t.receivedAt) >= e.cfg.Threshold && now.Sub(t.lastExtended) >= e.cfg.Interval/2 {
			due = append(due, t)
		}
	}
	e.mu.Unlock()

	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(extendConcurrency)
	for _, t := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t *tracked) {
			defer wg.Done()
			defer sem.Release(1)
			e.extend(ctx, t, now)
		}(t)
	}
	wg.Wait()
}

func (e *Extender) extend(ctx context.Context, t *tracked, round time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}

	err := e.changer.ChangeVisibility(ctx, e.queue.URL, t.msg.ReceiptHandle, e.cfg.Visibility)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.metrics.IncVisibilityErrors(ctx, e.queue.Name)
		e.logger.Warn().
			Err(err).
			Str("message_id", t.msg.MessageID).
			Msg("Failed to extend message visibility, retrying on next tick")
		return
	}

	e.touch(t.msg, round)
	e.metrics.IncVisibilityExtensions(ctx, e.queue.Name)
	e.logger.Debug().
		Str("message_id", t.msg.MessageID).
		Dur("visibility", e.cfg.Visibility).
		Msg("Extended message visibility")
}

// touch records an extension of msg at the given time
func (e *Extender) touch(msg *contracts.Message, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.inFlight[msg]; ok {
		t.lastExtended = at
	}
}

// ForMessage returns the Visibility capability of msg
func (e *Extender) ForMessage(msg *contracts.Message) contracts.Visibility {
	return &control{extender: e, msg: msg}
}

type control struct {
	extender *Extender
	msg      *contracts.Message
}

// ChangeVisibility sets the remaining visibility timeout of the message
func (c *control) ChangeVisibility(ctx context.Context, timeout time.Duration) error {
	e := c.extender
	if err := e.changer.ChangeVisibility(ctx, e.queue.URL, c.msg.ReceiptHandle, timeout); err != nil {
		e.metrics.IncVisibilityErrors(ctx, e.queue.Name)
		return err
	}
	e.metrics.IncVisibilityExtensions(ctx, e.queue.Name)

	e.touch(c.msg, time.Now())
	return nil
}

// Package source polls a queue and hands received batches to a sink.
package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
	"github.com/our-edu/go-sqs-listener/internal/permit"
	"github.com/our-edu/go-sqs-listener/internal/sink"
)

// Receiver receives messages from a queue
type Receiver interface {
	Receive(ctx context.Context, queue contracts.Queue, maxMessages int, wait, visibility time.Duration) ([]*contracts.Message, error)
}

// Backoff configures the delay between failed receive calls
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the receive error backoff: 1s doubling up to 30s
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0}
}

// delay returns the wait after the given number of consecutive failures
func (b Backoff) delay(failures int) time.Duration {
	d := float64(b.Initial)
	for i := 1; i < failures; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Config holds the collaborators and settings of a source
type Config struct {
	Queue    contracts.Queue
	Receiver Receiver
	Permits  *permit.Controller
	Sink     sink.Sink

	MessagesPerPoll      int
	PollTimeout          time.Duration
	PermitAcquireTimeout time.Duration
	// Visibility is requested on receive; zero keeps the queue default
	Visibility time.Duration
	Backoff    Backoff

	Metrics metrics.Provider
	Logger  zerolog.Logger
}

// Source polls one queue until stopped. Each received batch is emitted to
// the sink on its own goroutine.
type Source struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	batches conc.WaitGroup

	inFlight atomic.Int64
	received atomic.Int64
}

// New creates a source
func New(cfg Config) *Source {
	if cfg.MessagesPerPoll < 1 {
		cfg.MessagesPerPoll = 1
	}
	if cfg.Backoff.Initial <= 0 || cfg.Backoff.Max <= 0 || cfg.Backoff.Multiplier < 1 {
		defaults := DefaultBackoff()
		if cfg.Backoff.Initial <= 0 {
			cfg.Backoff.Initial = defaults.Initial
		}
		if cfg.Backoff.Max <= 0 {
			cfg.Backoff.Max = defaults.Max
		}
		if cfg.Backoff.Multiplier < 1 {
			cfg.Backoff.Multiplier = defaults.Multiplier
		}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}
	return &Source{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "source").Str("queue", cfg.Queue.Name).Logger(),
	}
}

// Start begins polling. Batches are processed with processCtx, which is
// independent from the polling lifetime so that Stop does not interrupt
// messages already received.
func (s *Source) Start(processCtx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.poll(pollCtx, processCtx, s.done)

	s.logger.Info().
		Int("messages_per_poll", s.cfg.MessagesPerPoll).
		Int("max_in_flight", s.cfg.Permits.Max()).
		Dur("poll_timeout", s.cfg.PollTimeout).
		Msg("Started polling")
}

// Stop cancels polling. An in-progress receive call is aborted; batches
// already dispatched keep running.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until polling stopped and every dispatched batch finished, or
// until ctx expires.
func (s *Source) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InFlight returns the number of received messages whose processing has not
// completed
func (s *Source) InFlight() int {
	return int(s.inFlight.Load())
}

// Received returns the total number of messages received
func (s *Source) Received() int {
	return int(s.received.Load())
}

func (s *Source) poll(pollCtx, processCtx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		if pollCtx.Err() != nil {
			s.logger.Info().
				Int64("received", s.received.Load()).
				Msg("Stopped polling")
			return
		}

		want := min(s.cfg.MessagesPerPoll, s.cfg.Permits.Max())
		granted := s.cfg.Permits.Acquire(pollCtx, want, s.cfg.PermitAcquireTimeout)
		if granted == 0 {
			s.logger.Trace().Msg("No permits available")
			continue
		}

		batch, err := s.cfg.Receiver.Receive(pollCtx, s.cfg.Queue, granted, s.cfg.PollTimeout, s.cfg.Visibility)
		if err != nil {
			s.cfg.Permits.Release(granted)
			if pollCtx.Err() != nil {
				continue
			}

			failures++
			delay := s.cfg.Backoff.delay(failures)
			s.cfg.Metrics.IncReceiveErrors(pollCtx, s.cfg.Queue.Name)
			s.logger.Error().
				Err(err).
				Str("error_type", contracts.ClassifyError(err).String()).
				Int("consecutive_failures", failures).
				Dur("backoff", delay).
				Msg("Failed to receive messages")

			sleep(pollCtx, delay)
			continue
		}
		failures = 0

		if unused := granted - len(batch); unused > 0 {
			s.cfg.Permits.Release(unused)
		}
		if len(batch) == 0 {
			continue
		}

		s.dispatch(processCtx, batch)
	}
}

func (s *Source) dispatch(ctx context.Context, batch []*contracts.Message) {
	queue := s.cfg.Queue.Name
	s.received.Add(int64(len(batch)))
	inFlight := s.inFlight.Add(int64(len(batch)))
	s.cfg.Metrics.IncMessagesReceived(ctx, queue, len(batch))
	s.cfg.Metrics.SetInFlight(ctx, queue, float64(inFlight))

	pc := contracts.NewProcessingContext(queue, len(batch), func(*contracts.Message) {
		s.cfg.Permits.Release(1)
		remaining := s.inFlight.Add(-1)
		s.cfg.Metrics.SetInFlight(context.Background(), queue, float64(remaining))
	})

	s.logger.Debug().
		Str("batch_id", pc.ID).
		Int("count", len(batch)).
		Msg("Received messages")

	s.batches.Go(func() {
		s.cfg.Sink.Emit(ctx, batch, pc)
	})
}

// sleep waits for d or until ctx is cancelled
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

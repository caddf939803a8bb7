package ack

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	sqsdriver "github.com/our-edu/go-sqs-listener/internal/drivers/sqs"
	"github.com/our-edu/go-sqs-listener/internal/metrics"
)

// flushTimeout bounds a single background DeleteMessageBatch call
const flushTimeout = 30 * time.Second

// Async collects acknowledged receipt handles and deletes them in batches.
// A batch is flushed when it reaches batchSize, when interval elapses, or
// when the acknowledger is closed.
type Async struct {
	deleter   Deleter
	queue     contracts.Queue
	batchSize int
	interval  time.Duration
	metrics   metrics.Provider
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	started bool
	closed  bool

	flushes conc.WaitGroup
	stop    chan struct{}
	stopped chan struct{}
}

// NewAsync creates a batching acknowledger for queue. batchSize is clamped to 1-10.
func NewAsync(deleter Deleter, queue contracts.Queue, batchSize int, interval time.Duration, provider metrics.Provider, logger zerolog.Logger) *Async {
	if batchSize < 1 {
		batchSize = 1
	}
	if batchSize > sqsdriver.MaxBatchEntries {
		batchSize = sqsdriver.MaxBatchEntries
	}
	if interval <= 0 {
		interval = time.Second
	}
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Async{
		deleter:   deleter,
		queue:     queue,
		batchSize: batchSize,
		interval:  interval,
		metrics:   provider,
		logger:    logger.With().Str("component", "ack").Str("queue", queue.Name).Logger(),
		queued:    make(map[string]struct{}),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Start launches the interval flusher
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true
	go a.run()
}

func (a *Async) run() {
	defer close(a.stopped)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if batch := a.take(); len(batch) > 0 {
				a.flushes.Go(func() { a.flush(batch) })
			}
		}
	}
}

// Ack queues the receipt handle of msg. Once the acknowledger is closed the
// message is deleted immediately instead.
func (a *Async) Ack(ctx context.Context, msg *contracts.Message) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return a.deleteNow(ctx, msg)
	}
	if _, ok := a.queued[msg.ReceiptHandle]; ok {
		a.mu.Unlock()
		return nil
	}
	a.queued[msg.ReceiptHandle] = struct{}{}
	a.pending = append(a.pending, msg.ReceiptHandle)

	if len(a.pending) >= a.batchSize {
		// scheduled under the lock so Close cannot start waiting in between
		batch := a.cutLocked(a.batchSize)
		a.flushes.Go(func() { a.flush(batch) })
	}
	a.mu.Unlock()
	return nil
}

// Pending returns the number of queued receipt handles
func (a *Async) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close stops the flusher, deletes everything still queued and waits for
// in-progress flushes or ctx expiry.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	remaining := a.pending
	a.pending = nil
	a.mu.Unlock()

	if started {
		close(a.stop)
		<-a.stopped
	}

	for len(remaining) > 0 {
		n := min(a.batchSize, len(remaining))
		batch := remaining[:n]
		remaining = remaining[n:]
		a.flushes.Go(func() { a.flush(batch) })
	}

	done := make(chan struct{})
	go func() {
		a.flushes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take cuts up to one batch of pending handles
func (a *Async) take() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cutLocked(a.batchSize)
}

func (a *Async) cutLocked(n int) []string {
	n = min(n, len(a.pending))
	if n == 0 {
		return nil
	}
	batch := make([]string, n)
	copy(batch, a.pending[:n])
	a.pending = a.pending[n:]
	return batch
}

func (a *Async) flush(batch []string) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	failures, err := a.deleter.DeleteBatch(ctx, a.queue.URL, batch)

	a.mu.Lock()
	for _, handle := range batch {
		delete(a.queued, handle)
	}
	a.mu.Unlock()

	if err != nil {
		a.metrics.IncAckErrors(ctx, a.queue.Name, len(batch))
		a.logger.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Msg("Failed to delete message batch")
		return
	}

	for _, f := range failures {
		a.logger.Warn().
			Str("code", f.Code).
			Str("reason", f.Message).
			Bool("sender_fault", f.SenderFault).
			Msg("Failed to delete message in batch")
	}
	if len(failures) > 0 {
		a.metrics.IncAckErrors(ctx, a.queue.Name, len(failures))
	}
	a.metrics.IncAcknowledged(ctx, a.queue.Name, len(batch)-len(failures))

	a.logger.Debug().
		Int("batch_size", len(batch)).
		Int("failed", len(failures)).
		Msg("Flushed acknowledgement batch")
}

func (a *Async) deleteNow(ctx context.Context, msg *contracts.Message) error {
	if err := a.deleter.Delete(ctx, a.queue.URL, msg.ReceiptHandle); err != nil {
		a.metrics.IncAckErrors(ctx, a.queue.Name, 1)
		return err
	}
	a.metrics.IncAcknowledged(ctx, a.queue.Name, 1)
	return nil
}

var _ Acknowledger = (*Async)(nil)

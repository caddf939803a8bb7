// Package permit bounds the number of messages a queue may have in flight.
package permit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Controller hands out in-flight permits for a single queue.
// A permit is held from the moment a message is requested until its
// processing completes.
type Controller struct {
	sem *semaphore.Weighted
	max int

	mu     sync.Mutex
	held   int
	closed bool
}

// New creates a controller allowing at most maxInFlight permits.
func New(maxInFlight int) *Controller {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	return &Controller{
		sem: semaphore.NewWeighted(int64(maxInFlight)),
		max: maxInFlight,
	}
}

// Acquire waits up to timeout for a first permit, then takes as many more as
// are immediately available up to count. It returns the number of permits
// granted, which is 0 on timeout, cancellation or after Close.
func (c *Controller) Acquire(ctx context.Context, count int, timeout time.Duration) int {
	if count < 1 {
		return 0
	}
	if count > c.max {
		count = c.max
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.sem.Acquire(waitCtx, 1); err != nil {
		return 0
	}

	granted := 1
	for granted < count && c.sem.TryAcquire(1) {
		granted++
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.sem.Release(int64(granted))
		return 0
	}
	c.held += granted
	return granted
}

// Release returns n permits. Releasing more than are held only returns the
// held ones, and releasing after Close is a no-op.
func (c *Controller) Release(n int) {
	if n < 1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.held {
		n = c.held
	}
	if n == 0 {
		return
	}
	c.held -= n
	c.sem.Release(int64(n))
}

// Held returns the number of permits currently held
func (c *Controller) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Max returns the maximum number of permits
func (c *Controller) Max() int {
	return c.max
}

// Close releases every held permit and stops granting new ones.
// It returns the number of permits that were still held.
func (c *Controller) Close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	released := c.held
	c.closed = true
	if released > 0 {
		c.sem.Release(int64(released))
	}
	c.held = 0
	return released
}

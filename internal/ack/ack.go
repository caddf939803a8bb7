// Package ack deletes successfully processed messages, either immediately or
// in batches flushed in the background.
package ack

import (
	"context"
	"sync"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
	sqsdriver "github.com/our-edu/go-sqs-listener/internal/drivers/sqs"
)

// Deleter removes messages from a queue
type Deleter interface {
	Delete(ctx context.Context, queueURL, receiptHandle string) error
	DeleteBatch(ctx context.Context, queueURL string, receiptHandles []string) ([]sqsdriver.BatchFailure, error)
}

// Acknowledger deletes processed messages of a single queue
type Acknowledger interface {
	// Ack deletes msg, or schedules its deletion
	Ack(ctx context.Context, msg *contracts.Message) error
	// Start begins any background work
	Start()
	// Close flushes pending deletions and stops background work
	Close(ctx context.Context) error
}

// Callback is the Acknowledgement capability bound to a single delivery.
// The first successful acknowledgement wins; later calls return nil.
type Callback struct {
	acker Acknowledger
	msg   *contracts.Message

	mu   sync.Mutex
	done bool
}

// NewCallback creates the acknowledgement capability for msg
func NewCallback(acker Acknowledger, msg *contracts.Message) *Callback {
	return &Callback{acker: acker, msg: msg}
}

// Acknowledge deletes the message. A failed deletion does not latch, so the
// call may be retried.
func (c *Callback) Acknowledge(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil
	}
	if err := c.acker.Ack(ctx, c.msg); err != nil {
		return err
	}
	c.done = true
	return nil
}

// IsAcknowledged reports whether the message was acknowledged
func (c *Callback) IsAcknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

var _ contracts.Acknowledgement = (*Callback)(nil)

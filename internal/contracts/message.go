package contracts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoCapability is returned by the capability stubs of a message that was
// not received through a running listener.
var ErrNoCapability = errors.New("sqslistener: message is not bound to a listener")

// Message represents a message received from a queue
type Message struct {
	// MessageID is the unique message identifier
	MessageID string
	// ReceiptHandle identifies this delivery; it is required to delete or
	// change the visibility of the message and is only valid for this delivery
	ReceiptHandle string
	// Body is the raw message body
	Body string
	// Attributes contains system attributes (ApproximateReceiveCount, SentTimestamp, ...)
	Attributes map[string]string
	// MessageAttributes contains custom message attributes
	MessageAttributes map[string]MessageAttribute
	// QueueName is the name of the queue the message was received from
	QueueName string
	// QueueURL is the URL of the queue the message was received from
	QueueURL string
	// QueueAttributes are the attributes resolved for the queue on start
	QueueAttributes map[string]string
	// ReceivedAt is when the message was received
	ReceivedAt time.Time

	ack        Acknowledgement
	visibility Visibility
}

// MessageAttribute represents a message attribute
type MessageAttribute struct {
	DataType string
	Value    string
}

// Acknowledgement returns the acknowledgement bound to this delivery.
func (m *Message) Acknowledgement() Acknowledgement {
	if m.ack == nil {
		return unbound{}
	}
	return m.ack
}

// Visibility returns the visibility control bound to this delivery.
func (m *Message) Visibility() Visibility {
	if m.visibility == nil {
		return unbound{}
	}
	return m.visibility
}

// Bind attaches the capabilities of a delivery to the message.
func (m *Message) Bind(ack Acknowledgement, visibility Visibility) {
	m.ack = ack
	m.visibility = visibility
}

// Bound reports whether capabilities are attached.
func (m *Message) Bound() bool {
	return m.ack != nil && m.visibility != nil
}

// WithBody returns a copy of the message with a different body. The copy keeps
// the capabilities of the original delivery.
func (m *Message) WithBody(body string) *Message {
	out := *m
	out.Body = body
	return &out
}

// Attribute returns a system attribute or an empty string
func (m *Message) Attribute(name string) string {
	return m.Attributes[name]
}

type unbound struct{}

func (unbound) Acknowledge(context.Context) error { return ErrNoCapability }

func (unbound) IsAcknowledged() bool { return false }

func (unbound) ChangeVisibility(context.Context, time.Duration) error { return ErrNoCapability }

// ProcessingContext carries per-batch metadata through a sink.
// It is owned by the sink for the duration of a single Emit call.
type ProcessingContext struct {
	// ID uniquely identifies the batch
	ID string
	// Queue is the queue the batch was received from
	Queue string
	// Size is the number of messages in the batch
	Size int
	// ReceivedAt is when the batch was received
	ReceivedAt time.Time

	mu         sync.Mutex
	completed  map[*Message]struct{}
	onComplete func(*Message)
}

// NewProcessingContext creates the context for a received batch. onComplete
// runs exactly once per message when its processing finishes.
func NewProcessingContext(queue string, size int, onComplete func(*Message)) *ProcessingContext {
	return &ProcessingContext{
		ID:         uuid.NewString(),
		Queue:      queue,
		Size:       size,
		ReceivedAt: time.Now(),
		completed:  make(map[*Message]struct{}, size),
		onComplete: onComplete,
	}
}

// Complete signals that processing of msg finished. Repeated calls for the
// same message are ignored.
func (pc *ProcessingContext) Complete(msg *Message) {
	pc.mu.Lock()
	if _, done := pc.completed[msg]; done {
		pc.mu.Unlock()
		return
	}
	pc.completed[msg] = struct{}{}
	pc.mu.Unlock()

	if pc.onComplete != nil {
		pc.onComplete(msg)
	}
}

// Completed returns how many messages of the batch have completed
func (pc *ProcessingContext) Completed() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.completed)
}

// Package sqstest provides an in-memory SQS API for tests.
package sqstest

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

const baseURL = "https://sqs.us-east-2.amazonaws.com/000000000000/"

type message struct {
	id            string
	body          string
	attributes    map[string]types.MessageAttributeValue
	receiptHandle string
	visibleAt     time.Time
	receiveCount  int
}

type queue struct {
	name       string
	url        string
	visibility time.Duration
	attributes map[string]string
	messages   []*message
	deleted    []string
}

// Stats counts the calls made against the fake
type Stats struct {
	Receives          int
	Deletes           int
	DeleteBatches     []int
	VisibilityChanges int
	Sends             int
}

// API is an in-memory implementation of the SQS operations used by the
// engine. Receive honours visibility timeouts and issues a new receipt
// handle on every delivery.
type API struct {
	mu     sync.Mutex
	queues map[string]*queue
	byName map[string]*queue
	stats  Stats

	// ReceiveErr, when set, is returned by ReceiveMessage instead of messages
	ReceiveErr func() error
	// DeleteErr, when set, is returned by DeleteMessage
	DeleteErr func(receiptHandle string) error
	// VisibilityErr, when set, is returned by ChangeMessageVisibility
	VisibilityErr func(receiptHandle string) error
}

// New creates an empty fake
func New() *API {
	return &API{
		queues: make(map[string]*queue),
		byName: make(map[string]*queue),
	}
}

// CreateQueue registers a queue and returns its URL
func (f *API) CreateQueue(name string, visibility time.Duration) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := &queue{
		name:       name,
		url:        baseURL + name,
		visibility: visibility,
		attributes: map[string]string{
			"VisibilityTimeout": strconv.Itoa(int(visibility / time.Second)),
			"QueueArn":          "arn:aws:sqs:us-east-2:000000000000:" + name,
			"DelaySeconds":      "0",
		},
	}
	f.queues[q.url] = q
	f.byName[name] = q
	return q.url
}

// Enqueue adds messages to a queue
func (f *API) Enqueue(queueURL string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := f.queues[queueURL]
	for _, body := range bodies {
		q.messages = append(q.messages, &message{id: uuid.NewString(), body: body})
	}
}

// Deleted returns the bodies deleted from a queue, in deletion order
func (f *API) Deleted(queueURL string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queues[queueURL].deleted...)
}

// Remaining returns how many messages are still stored in a queue
func (f *API) Remaining(queueURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[queueURL].messages)
}

// ReceiveCount returns how many times the message with the given body was delivered
func (f *API) ReceiveCount(queueURL, body string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.queues[queueURL].messages {
		if m.body == body {
			return m.receiveCount
		}
	}
	return 0
}

// Stats returns a snapshot of the call counters
func (f *API) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.DeleteBatches = append([]int(nil), f.stats.DeleteBatches...)
	return s
}

func (f *API) lookup(queueURL *string) (*queue, error) {
	q, ok := f.queues[aws.ToString(queueURL)]
	if !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
	}
	return q, nil
}

func invalidHandle(handle string) error {
	return &smithy.GenericAPIError{
		Code:    "ReceiptHandleIsInvalid",
		Message: fmt.Sprintf("receipt handle %q is not valid", handle),
	}
}

func (f *API) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	wait := time.Duration(params.WaitTimeSeconds) * time.Second
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	deadline := time.Now().Add(wait)

	f.mu.Lock()
	f.stats.Receives++
	f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := f.tryReceive(params)
		if err != nil || len(out.Messages) > 0 || time.Now().After(deadline) {
			return out, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *API) tryReceive(params *sqs.ReceiveMessageInput) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReceiveErr != nil {
		if err := f.ReceiveErr(); err != nil {
			return nil, err
		}
	}

	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}

	visibility := q.visibility
	if params.VisibilityTimeout > 0 {
		visibility = time.Duration(params.VisibilityTimeout) * time.Second
	}
	limit := int(params.MaxNumberOfMessages)
	if limit < 1 {
		limit = 1
	}

	now := time.Now()
	out := &sqs.ReceiveMessageOutput{}
	for _, m := range q.messages {
		if len(out.Messages) == limit {
			break
		}
		if now.Before(m.visibleAt) {
			continue
		}
		m.receiveCount++
		m.receiptHandle = uuid.NewString()
		m.visibleAt = now.Add(visibility)
		out.Messages = append(out.Messages, types.Message{
			MessageId:         aws.String(m.id),
			ReceiptHandle:     aws.String(m.receiptHandle),
			Body:              aws.String(m.body),
			MessageAttributes: m.attributes,
			Attributes: map[string]string{
				"ApproximateReceiveCount": strconv.Itoa(m.receiveCount),
			},
		})
	}
	return out, nil
}

func (f *API) delete(q *queue, handle string) error {
	for i, m := range q.messages {
		if m.receiptHandle != "" && m.receiptHandle == handle {
			q.deleted = append(q.deleted, m.body)
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return invalidHandle(handle)
}

func (f *API) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Deletes++
	if f.DeleteErr != nil {
		if err := f.DeleteErr(aws.ToString(params.ReceiptHandle)); err != nil {
			return nil, err
		}
	}

	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	if err := f.delete(q, aws.ToString(params.ReceiptHandle)); err != nil {
		return nil, err
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *API) DeleteMessageBatch(_ context.Context, params *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.DeleteBatches = append(f.stats.DeleteBatches, len(params.Entries))
	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}

	out := &sqs.DeleteMessageBatchOutput{}
	for _, entry := range params.Entries {
		if err := f.delete(q, aws.ToString(entry.ReceiptHandle)); err != nil {
			out.Failed = append(out.Failed, types.BatchResultErrorEntry{
				Id:          entry.Id,
				Code:        aws.String("ReceiptHandleIsInvalid"),
				Message:     aws.String(err.Error()),
				SenderFault: true,
			})
			continue
		}
		out.Successful = append(out.Successful, types.DeleteMessageBatchResultEntry{Id: entry.Id})
	}
	return out, nil
}

func (f *API) ChangeMessageVisibility(_ context.Context, params *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.VisibilityChanges++
	handle := aws.ToString(params.ReceiptHandle)
	if f.VisibilityErr != nil {
		if err := f.VisibilityErr(handle); err != nil {
			return nil, err
		}
	}

	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	for _, m := range q.messages {
		if m.receiptHandle == handle {
			m.visibleAt = time.Now().Add(time.Duration(params.VisibilityTimeout) * time.Second)
			return &sqs.ChangeMessageVisibilityOutput{}, nil
		}
	}
	return nil, invalidHandle(handle)
}

func (f *API) GetQueueUrl(_ context.Context, params *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, ok := f.byName[aws.ToString(params.QueueName)]
	if !ok {
		return nil, &types.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
	}
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(q.url)}, nil
}

func (f *API) GetQueueAttributes(_ context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(params.AttributeNames))
	for _, name := range params.AttributeNames {
		if name == types.QueueAttributeNameAll {
			for k, v := range q.attributes {
				attrs[k] = v
			}
			attrs["ApproximateNumberOfMessages"] = strconv.Itoa(len(q.messages))
			continue
		}
		if name == types.QueueAttributeNameApproximateNumberOfMessages {
			attrs[string(name)] = strconv.Itoa(len(q.messages))
			continue
		}
		if v, ok := q.attributes[string(name)]; ok {
			attrs[string(name)] = v
		}
	}
	return &sqs.GetQueueAttributesOutput{Attributes: attrs}, nil
}

func (f *API) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Sends++
	q, err := f.lookup(params.QueueUrl)
	if err != nil {
		return nil, err
	}
	m := &message{
		id:         uuid.NewString(),
		body:       aws.ToString(params.MessageBody),
		attributes: params.MessageAttributes,
	}
	q.messages = append(q.messages, m)
	return &sqs.SendMessageOutput{MessageId: aws.String(m.id)}, nil
}

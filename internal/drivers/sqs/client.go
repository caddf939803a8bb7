// Package sqs adapts the AWS SQS API to the listener engine.
package sqs

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
)

const (
	// MaxMessagesPerReceive is the SQS limit for a single ReceiveMessage call
	MaxMessagesPerReceive = 10
	// MaxBatchEntries is the SQS limit for a single DeleteMessageBatch call
	MaxBatchEntries = 10
	// MaxWaitTime is the longest long-polling wait SQS accepts
	MaxWaitTime = 20 * time.Second
	// MaxVisibilityTimeout is the SQS visibility timeout ceiling
	MaxVisibilityTimeout = 12 * time.Hour
)

// API is the subset of the SQS client used by the engine. *sqs.Client satisfies it.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ API = (*sqs.Client)(nil)

// BatchFailure describes an entry of a batch call that SQS rejected
type BatchFailure struct {
	ReceiptHandle string
	Code          string
	Message       string
	SenderFault   bool
}

// Client performs the message-level SQS operations of the engine
type Client struct {
	api    API
	logger zerolog.Logger
}

// NewClient creates a new SQS client adapter
func NewClient(api API, logger zerolog.Logger) *Client {
	return &Client{
		api:    api,
		logger: logger.With().Str("component", "sqs_client").Logger(),
	}
}

// API returns the underlying SQS API
func (c *Client) API() API {
	return c.api
}

// Receive long-polls the queue for up to maxMessages messages. A zero
// visibility keeps the queue's default visibility timeout.
func (c *Client) Receive(ctx context.Context, queue contracts.Queue, maxMessages int, wait, visibility time.Duration) ([]*contracts.Message, error) {
	if maxMessages > MaxMessagesPerReceive {
		maxMessages = MaxMessagesPerReceive
	}
	if maxMessages < 1 {
		maxMessages = 1
	}
	if wait > MaxWaitTime {
		wait = MaxWaitTime
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(queue.URL),
		MaxNumberOfMessages:         int32(maxMessages),
		WaitTimeSeconds:             int32(wait / time.Second),
		MessageAttributeNames:       []string{"All"},
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameAll},
	}
	if visibility > 0 {
		input.VisibilityTimeout = toSeconds(visibility)
	}

	result, err := c.api.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, classify("failed to receive messages", err)
	}

	receivedAt := time.Now()
	messages := make([]*contracts.Message, 0, len(result.Messages))
	for _, msg := range result.Messages {
		messages = append(messages, &contracts.Message{
			MessageID:         aws.ToString(msg.MessageId),
			ReceiptHandle:     aws.ToString(msg.ReceiptHandle),
			Body:              aws.ToString(msg.Body),
			Attributes:        msg.Attributes,
			MessageAttributes: convertMessageAttributes(msg.MessageAttributes),
			QueueName:         queue.Name,
			QueueURL:          queue.URL,
			QueueAttributes:   queue.Attributes,
			ReceivedAt:        receivedAt,
		})
	}

	if len(messages) > 0 {
		c.logger.Debug().
			Int("count", len(messages)).
			Str("queue", queue.Name).
			Msg("Received messages")
	}

	return messages, nil
}

// Delete removes a single message from the queue
func (c *Client) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return classify("failed to delete message", err)
	}
	return nil
}

// DeleteBatch removes up to MaxBatchEntries messages with one call. The
// returned failures list the entries SQS rejected; err is set when the call
// itself failed, in which case no entry was deleted.
func (c *Client) DeleteBatch(ctx context.Context, queueURL string, receiptHandles []string) ([]BatchFailure, error) {
	if len(receiptHandles) == 0 {
		return nil, nil
	}
	if len(receiptHandles) > MaxBatchEntries {
		return nil, contracts.NewValidationError("batch exceeds maximum of 10 entries", nil)
	}

	entries := make([]types.DeleteMessageBatchRequestEntry, len(receiptHandles))
	for i, handle := range receiptHandles {
		entries[i] = types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(strconv.Itoa(i)),
			ReceiptHandle: aws.String(handle),
		}
	}

	result, err := c.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		return nil, classify("failed to delete message batch", err)
	}

	var failures []BatchFailure
	for _, failed := range result.Failed {
		idx, convErr := strconv.Atoi(aws.ToString(failed.Id))
		if convErr != nil || idx < 0 || idx >= len(receiptHandles) {
			continue
		}
		failures = append(failures, BatchFailure{
			ReceiptHandle: receiptHandles[idx],
			Code:          aws.ToString(failed.Code),
			Message:       aws.ToString(failed.Message),
			SenderFault:   failed.SenderFault,
		})
	}
	return failures, nil
}

// ChangeVisibility sets the remaining visibility timeout of a message
func (c *Client) ChangeVisibility(ctx context.Context, queueURL, receiptHandle string, timeout time.Duration) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: toSeconds(timeout),
	})
	if err != nil {
		return classify("failed to change visibility timeout", err)
	}
	return nil
}

// Send publishes a raw message body with string message attributes
func (c *Client) Send(ctx context.Context, queueURL, body string, attributes map[string]string) (string, error) {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}
	if len(attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attributes))
		for k, v := range attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	result, err := c.api.SendMessage(ctx, input)
	if err != nil {
		return "", classify("failed to send message", err)
	}
	return aws.ToString(result.MessageId), nil
}

func toSeconds(d time.Duration) int32 {
	if d < 0 {
		return 0
	}
	if d > MaxVisibilityTimeout {
		d = MaxVisibilityTimeout
	}
	return int32(d / time.Second)
}

func convertMessageAttributes(attrs map[string]types.MessageAttributeValue) map[string]contracts.MessageAttribute {
	result := make(map[string]contracts.MessageAttribute, len(attrs))
	for k, v := range attrs {
		result[k] = contracts.MessageAttribute{
			DataType: aws.ToString(v.DataType),
			Value:    aws.ToString(v.StringValue),
		}
	}
	return result
}

package sqs

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/our-edu/go-sqs-listener/pkg/envelope"
)

// EventTypeAttribute is the message attribute carrying the envelope event type
const EventTypeAttribute = "EventType"

// Publisher sends enveloped events to queues. It is used by the CLI and by
// tests that need to feed a listener.
type Publisher struct {
	client   *Client
	resolver *Resolver
	logger   zerolog.Logger
	service  string
}

// NewPublisher creates a new SQS publisher
func NewPublisher(client *Client, resolver *Resolver, logger zerolog.Logger, service string) *Publisher {
	return &Publisher{
		client:   client,
		resolver: resolver,
		logger:   logger,
		service:  service,
	}
}

// Publish wraps the payload in an envelope and sends it to the queue
func (p *Publisher) Publish(ctx context.Context, queue, eventType string, payload map[string]any) (string, error) {
	queueURL, name, err := p.resolver.ResolveURL(ctx, queue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue URL: %w", err)
	}

	env := envelope.Wrap(eventType, payload, p.service)
	body, err := env.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}

	messageID, err := p.client.Send(ctx, queueURL, body, map[string]string{
		EventTypeAttribute: eventType,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info().
		Str("queue", name).
		Str("event_type", eventType).
		Str("message_id", messageID).
		Str("idempotency_key", env.IdempotencyKey).
		Msg("Published message to SQS")

	return messageID, nil
}

// SendRaw sends a body without an envelope
func (p *Publisher) SendRaw(ctx context.Context, queue, body string) (string, error) {
	queueURL, _, err := p.resolver.ResolveURL(ctx, queue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue URL: %w", err)
	}
	return p.client.Send(ctx, queueURL, body, nil)
}

// Package envelope implements the JSON envelope that wraps event payloads
// exchanged between services over the queues.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope format version
const Version = "1.0"

// ErrMissingField is wrapped by Validate for every required field left empty
var ErrMissingField = errors.New("envelope: missing field")

// Envelope wraps an event payload with routing and deduplication metadata
type Envelope struct {
	EventType      string         `json:"event_type"`
	Service        string         `json:"service"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	TraceID        string         `json:"trace_id"`
	Timestamp      string         `json:"timestamp"`
	Version        string         `json:"version"`
}

// volatileFields do not take part in the idempotency key
var volatileFields = []string{
	"timestamp",
	"created_at",
	"updated_at",
	"deleted_at",
	"trace_id",
	"request_id",
}

// Wrap creates an envelope for the given event type and payload. The trace
// ID is taken from the payload when present.
func Wrap(eventType string, payload map[string]any, service string) *Envelope {
	traceID := traceIDFrom(payload)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return &Envelope{
		EventType:      eventType,
		Service:        service,
		Payload:        payload,
		IdempotencyKey: IdempotencyKey(eventType, payload),
		TraceID:        traceID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Version:        Version,
	}
}

// Decode parses an envelope without validating it
func Decode(body string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Parse decodes and validates an envelope
func Parse(body string) (*Envelope, error) {
	env, err := Decode(body)
	if err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

// Encode serializes the envelope
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(data), nil
}

// Validate reports every required field that is missing
func (e *Envelope) Validate() error {
	var missing []string
	check := func(name string, empty bool) {
		if empty {
			missing = append(missing, name)
		}
	}

	check("event_type", e.EventType == "")
	check("service", e.Service == "")
	check("payload", e.Payload == nil)
	check("idempotency_key", e.IdempotencyKey == "")
	check("trace_id", e.TraceID == "")
	check("timestamp", e.Timestamp == "")
	check("version", e.Version == "")

	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
}

// IdempotencyKey hashes the event type and the payload without its volatile
// fields. Equal events produce equal keys regardless of map ordering.
func IdempotencyKey(eventType string, payload map[string]any) string {
	// encoding/json writes map keys in sorted order
	data, _ := json.Marshal(stripVolatile(payload))

	hash := sha256.Sum256([]byte(eventType + "|" + string(data)))
	return hex.EncodeToString(hash[:])
}

func stripVolatile(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if slices.Contains(volatileFields, k) {
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			out[k] = stripVolatile(nested)
		case []any:
			items := make([]any, len(nested))
			for i, item := range nested {
				if m, ok := item.(map[string]any); ok {
					items[i] = stripVolatile(m)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

func traceIDFrom(payload map[string]any) string {
	for _, key := range []string{"trace_id", "traceId"} {
		if traceID, ok := payload[key].(string); ok && traceID != "" {
			return traceID
		}
	}
	return ""
}

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EnvelopeOption func(*MessageEnvelope)

func WithID(id string) EnvelopeOption {
	return func(e *MessageEnvelope) { e.ID = id }
}

func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *MessageEnvelope) { e.Timestamp = ts }
}

func WithProject(projectUID string) EnvelopeOption {
	return func(e *MessageEnvelope) { e.Metadata.ProjectID = projectUID }
}

// WithTraceID is a no-op for an empty id.
func WithTraceID(traceID string) EnvelopeOption {
	return func(e *MessageEnvelope) {
		if traceID != "" {
			e.Metadata.TraceID = traceID
		}
	}
}

// NewEnvelope wraps event, flattened field by field into the payload. The id
// defaults to a random UUID and the timestamp to now in UTC.
func NewEnvelope(source, eventType string, event interface{}, opts ...EnvelopeOption) (*MessageEnvelope, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	payload := map[string]interface{}{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%s event is not an object: %w", eventType, err)
	}

	env := &MessageEnvelope{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  Metadata{EventType: eventType},
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

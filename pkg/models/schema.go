package models

import (
	"encoding/json"
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateMessageEnvelope reports the first missing required field.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return &ValidationError{Field: "envelope", Message: "message envelope cannot be nil"}
	}
	required := []struct {
		field   string
		missing bool
	}{
		{"id", msg.ID == ""},
		{"source", msg.Source == ""},
		{"timestamp", msg.Timestamp.IsZero()},
		{"payload", msg.Payload == nil},
	}
	for _, r := range required {
		if r.missing {
			return &ValidationError{Field: r.field, Message: r.field + " is required"}
		}
	}
	return nil
}

// EventType returns the envelope's event type from its metadata, falling
// back to the payload's event_type field.
func (msg *MessageEnvelope) EventType() string {
	if msg.Metadata.EventType != "" {
		return msg.Metadata.EventType
	}
	eventType, _ := msg.Payload["event_type"].(string)
	return eventType
}

// DecodePayload converts the payload back into a typed event.
func (msg *MessageEnvelope) DecodePayload(out interface{}) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

package models

import "time"

// MessageEnvelope wraps every event written to the broker.
type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  Metadata               `json:"metadata"`
}

type Metadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	ProjectID string `json:"project_uid,omitempty"`
}

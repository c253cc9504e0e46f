package models

import "time"

const (
	EventTypeUpdateRequested = "firmware_update_requested"
	EventTypeRulesChanged    = "firmware_rules_changed"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionReload = "reload"
)

// UpdateRequestedEvent records one firmware update request accepted by Notehub.
type UpdateRequestedEvent struct {
	EventType   string    `json:"event_type"`
	DeviceUID   string    `json:"device_uid"`
	Channel     string    `json:"channel"`
	FromVersion string    `json:"from_version,omitempty"`
	ToVersion   string    `json:"to_version"`
	Artifact    string    `json:"artifact"`
	RuleID      string    `json:"rule_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// RulesChangedEvent tells other instances to reload their rule set.
type RulesChangedEvent struct {
	EventType string    `json:"event_type"`
	RuleID    string    `json:"rule_id,omitempty"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	ChangedBy string    `json:"changed_by,omitempty"`
}

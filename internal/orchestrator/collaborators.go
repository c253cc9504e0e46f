package orchestrator

import (
	"context"

	"fwupdate/internal/rules"
)

// UpdateStatus is a device's firmware update state for one channel.
type UpdateStatus struct {
	InProgress bool
	Details    map[string]any
}

type HistorySource interface {
	// FetchCurrentFirmware returns the current firmware record for the
	// channel, or an empty record when the device has no history.
	FetchCurrentFirmware(ctx context.Context, deviceID string, channel rules.Channel) (map[string]any, error)
}

type StatusSource interface {
	FetchUpdateStatus(ctx context.Context, deviceID string, channel rules.Channel) (UpdateStatus, error)
}

type UpdateRequester interface {
	RequestFirmwareUpdate(ctx context.Context, deviceID, filename string, channel rules.Channel) error
}

// FleetClient is the fleet management service as seen by the orchestrator.
type FleetClient interface {
	HistorySource
	StatusSource
	UpdateRequester
}

type ArtifactResolver interface {
	Retrieve(ctx context.Context, channel, version string) (string, error)
}

// UpdateRequest describes a live update request that was accepted.
type UpdateRequest struct {
	DeviceID string
	Channel  rules.Channel
	From     string
	To       string
	Artifact string
	RuleID   string
}

// Notifier is told about every accepted update request. It must not block
// the decision and has no way to fail it.
type Notifier interface {
	UpdateRequested(ctx context.Context, req UpdateRequest)
}

package notehub

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"fwupdate/internal/firmware"
	"fwupdate/internal/orchestrator"
	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

// Project exposes the project operations the firmware service needs. It
// satisfies orchestrator.FleetClient and firmware.CatalogSource.
type Project struct {
	client *Client
}

var (
	_ orchestrator.FleetClient = (*Project)(nil)
	_ firmware.CatalogSource   = (*Project)(nil)
)

func NewProject(client *Client) *Project {
	return &Project{client: client}
}

// FetchFirmwareCatalog lists every firmware artifact published to the project.
func (p *Project) FetchFirmwareCatalog(ctx context.Context) ([]firmware.CatalogEntry, error) {
	return p.FetchFirmware(ctx, "")
}

// FetchFirmware lists published firmware, optionally restricted to one type.
func (p *Project) FetchFirmware(ctx context.Context, firmwareType string) ([]firmware.CatalogEntry, error) {
	var params url.Values
	if firmwareType != "" {
		params = url.Values{"firmwareType": {firmwareType}}
	}

	var raw []map[string]any
	if err := p.client.v1Request(ctx, "fetch_firmware", http.MethodGet, "firmware", params, nil, &raw); err != nil {
		return nil, err
	}

	entries := make([]firmware.CatalogEntry, 0, len(raw))
	for _, item := range raw {
		entries = append(entries, catalogEntry(item))
	}
	return entries, nil
}

// catalogEntry keeps a present but non-string file name as an empty one so
// the cache can report it as corrupt instead of missing.
func catalogEntry(item map[string]any) firmware.CatalogEntry {
	entry := firmware.CatalogEntry{}
	entry.Channel, _ = item["type"].(string)
	entry.Version, _ = item["version"].(string)

	switch f := item["filename"].(type) {
	case nil:
	case string:
		entry.Filename = &f
	default:
		empty := ""
		entry.Filename = &empty
	}
	return entry
}

func (p *Project) FetchCurrentFirmware(ctx context.Context, deviceID string, channel rules.Channel) (map[string]any, error) {
	if err := validDevice(deviceID); err != nil {
		return nil, err
	}

	var history struct {
		Current map[string]any `json:"current"`
	}
	path := fmt.Sprintf("devices/%s/dfu/%s/history", url.PathEscape(deviceID), channel)
	if err := p.client.v1Request(ctx, "firmware_history", http.MethodGet, path, nil, nil, &history); err != nil {
		return nil, err
	}

	if history.Current == nil {
		return map[string]any{}, nil
	}
	return history.Current, nil
}

func (p *Project) FetchUpdateStatus(ctx context.Context, deviceID string, channel rules.Channel) (orchestrator.UpdateStatus, error) {
	if err := validDevice(deviceID); err != nil {
		return orchestrator.UpdateStatus{}, err
	}

	var raw map[string]any
	path := fmt.Sprintf("devices/%s/dfu/%s/status", url.PathEscape(deviceID), channel)
	if err := p.client.v1Request(ctx, "update_status", http.MethodGet, path, nil, nil, &raw); err != nil {
		return orchestrator.UpdateStatus{}, err
	}

	inProgress, _ := raw["dfu_in_progress"].(bool)
	return orchestrator.UpdateStatus{InProgress: inProgress, Details: raw}, nil
}

func (p *Project) RequestFirmwareUpdate(ctx context.Context, deviceID, filename string, channel rules.Channel) error {
	if err := validDevice(deviceID); err != nil {
		return err
	}

	params := url.Values{"deviceUID": {deviceID}}
	payload := map[string]string{"filename": filename}
	return p.client.v1Request(ctx, "request_update", http.MethodPost, fmt.Sprintf("dfu/%s/update", channel), params, payload, nil)
}

func (p *Project) CancelFirmwareUpdate(ctx context.Context, deviceID string, channel rules.Channel) error {
	if err := validDevice(deviceID); err != nil {
		return err
	}

	params := url.Values{"deviceUID": {deviceID}}
	return p.client.v1Request(ctx, "cancel_update", http.MethodPost, fmt.Sprintf("dfu/%s/cancel", channel), params, nil, nil)
}

// DeviceInfo returns the device record, including its fleet_uids.
func (p *Project) DeviceInfo(ctx context.Context, deviceID string) (map[string]any, error) {
	if err := validDevice(deviceID); err != nil {
		return nil, err
	}

	var info map[string]any
	if err := p.client.v1Request(ctx, "device_info", http.MethodGet, "devices/"+url.PathEscape(deviceID), nil, nil, &info); err != nil {
		return nil, err
	}
	if info == nil {
		info = map[string]any{}
	}
	return info, nil
}

// DeviceFleets returns the fleet UIDs the device belongs to.
func (p *Project) DeviceFleets(ctx context.Context, deviceID string) ([]string, error) {
	info, err := p.DeviceInfo(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	raw, _ := info["fleet_uids"].([]any)
	fleets := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok && s != "" {
			fleets = append(fleets, s)
		}
	}
	return fleets, nil
}

func validDevice(deviceID string) error {
	if deviceID == "" {
		return apperrors.ErrValidation.WithMessage("device UID is required")
	}
	return nil
}

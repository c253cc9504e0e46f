package request

import (
	"encoding/json"
	"net/http"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

const msgMissingDevice = "bad request. missing valid device UID from the request"

// ErrMissingDevice is returned by ParsePayload when the body has no usable device UID.
var ErrMissingDevice = apperrors.NewError("MISSING_DEVICE", msgMissingDevice, http.StatusBadRequest)

// Payload is one decoded firmware check request.
type Payload struct {
	DeviceID string
	// DryRun is set by the request's dry_run flag.
	DryRun bool
	// Attributes holds every field of the request body and is what rule
	// conditions are matched against.
	Attributes rules.Attributes
}

// ParsePayload decodes a request body. The body is a JSON object, or a JSON
// string holding one. firmware_notecard and firmware_host may themselves be
// JSON objects encoded as strings.
func ParsePayload(body []byte) (Payload, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Payload{}, apperrors.ErrValidation.WithMessage("invalid request body: %v", err).WithCause(err)
	}

	if s, ok := decoded.(string); ok {
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return Payload{}, apperrors.ErrValidation.WithMessage("invalid request body: %v", err).WithCause(err)
		}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return Payload{}, apperrors.ErrValidation.WithMessage("invalid request body: expected a JSON object")
	}

	device, _ := obj["device"].(string)
	if device == "" {
		return Payload{}, ErrMissingDevice
	}

	attrs := make(rules.Attributes, len(obj))
	for k, v := range obj {
		attrs[k] = v
	}
	for _, ch := range rules.Channels {
		key := "firmware_" + string(ch)
		if s, ok := attrs[key].(string); ok {
			var record map[string]any
			if err := json.Unmarshal([]byte(s), &record); err == nil && record != nil {
				attrs[key] = record
			}
		}
	}

	dryRun, _ := obj["dry_run"].(bool)

	return Payload{
		DeviceID:   device,
		DryRun:     dryRun,
		Attributes: attrs,
	}, nil
}

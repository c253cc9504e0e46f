package management

import "time"

type CreateRuleRequest struct {
	ID          string         `json:"id"`
	Position    int            `json:"position"`
	Description string         `json:"description"`
	Conditions  map[string]any `json:"conditions"`
	Target      any            `json:"target"`
	Enabled     *bool          `json:"enabled"`
}

type UpdateRuleRequest struct {
	Position    *int            `json:"position"`
	Description *string         `json:"description"`
	Conditions  *map[string]any `json:"conditions"`
	Target      *any            `json:"target"`
	Enabled     *bool           `json:"enabled"`
}

// ActiveRule is a decoded rule as the evaluator sees it.
type ActiveRule struct {
	ID         string            `json:"id"`
	Conditions []string          `json:"conditions"`
	Version    string            `json:"version,omitempty"`
	Channels   map[string]string `json:"channels,omitempty"`
	NoUpdate   bool              `json:"no_update,omitempty"`
}

type ActiveRulesResponse struct {
	Source   string       `json:"source"`
	Loaded   bool         `json:"loaded"`
	LoadedAt *time.Time   `json:"loaded_at,omitempty"`
	Count    int          `json:"count"`
	Rules    []ActiveRule `json:"rules"`
}

type CancelUpdateRequest struct {
	DeviceUID string `json:"device_uid" binding:"required"`
	Channel   string `json:"channel"`
}

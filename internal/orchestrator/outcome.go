package orchestrator

import (
	"fmt"
	"strings"

	"fwupdate/internal/rules"
)

type State string

const (
	StateNoMatch   State = "no_match"
	StateSatisfied State = "satisfied"
	StateBlocked   State = "blocked"
	StateEvaluated State = "evaluated"
)

type ChannelStatus string

const (
	StatusNotRequested ChannelStatus = "not_requested"
	StatusAtTarget     ChannelStatus = "at_target"
	StatusRequested    ChannelStatus = "requested"
	StatusWouldRequest ChannelStatus = "would_request"
	StatusUnavailable  ChannelStatus = "unavailable"
)

const (
	dryRunMarker   = "[DRY RUN]"
	unknownVersion = "unknown"
)

type ChannelResult struct {
	Channel  rules.Channel `json:"channel"`
	Status   ChannelStatus `json:"status"`
	Current  string        `json:"current,omitempty"`
	Target   string        `json:"target,omitempty"`
	Artifact string        `json:"artifact,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

func (r ChannelResult) String() string {
	current := r.Current
	if current == "" {
		current = unknownVersion
	}

	switch r.Status {
	case StatusNotRequested:
		return fmt.Sprintf("No firmware update request for %s", r.Channel)
	case StatusAtTarget:
		return fmt.Sprintf("Skipping update request for %s. Already at target version of %s.", r.Channel, r.Target)
	case StatusRequested:
		return fmt.Sprintf("Requested %s firmware update from %s to %s.", r.Channel, current, r.Target)
	case StatusWouldRequest:
		return fmt.Sprintf("Would request %s firmware update from %s to %s.", r.Channel, current, r.Target)
	case StatusUnavailable:
		return fmt.Sprintf("Cannot update %s firmware: %s.", r.Channel, strings.TrimSuffix(r.Reason, "."))
	default:
		return ""
	}
}

// Outcome is the structured result of one decision. String renders the
// operator message.
type Outcome struct {
	State     State           `json:"state"`
	RuleID    string          `json:"rule_id,omitempty"`
	DryRun    bool            `json:"dry_run"`
	BlockedBy rules.Channel   `json:"blocked_by,omitempty"`
	Channels  []ChannelResult `json:"channels,omitempty"`
}

func (o Outcome) String() string {
	var parts []string
	if o.DryRun {
		parts = append(parts, dryRunMarker)
	}

	ruleClause := fmt.Sprintf("According to rule id %s,", o.RuleID)

	switch o.State {
	case StateNoMatch:
		parts = append(parts, "No rule conditions met. No updates required")
	case StateSatisfied:
		parts = append(parts, ruleClause+" firmware requirements met, no updates required")
	case StateBlocked:
		parts = append(parts, fmt.Sprintf("%s firmware requirements NOT met.  Update not requested because %s update is in progress",
			ruleClause, o.BlockedBy.Title()))
	case StateEvaluated:
		parts = append(parts, ruleClause)
		for _, ch := range o.Channels {
			parts = append(parts, ch.String())
		}
	}

	return strings.Join(parts, " ")
}

// Requested lists the channels for which an update request was sent.
func (o Outcome) Requested() []ChannelResult {
	var out []ChannelResult
	for _, ch := range o.Channels {
		if ch.Status == StatusRequested {
			out = append(out, ch)
		}
	}
	return out
}

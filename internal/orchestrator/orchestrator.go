package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fwupdate/internal/logger"
	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
)

var tracer = otel.Tracer("fwupdate/internal/orchestrator")

type Option func(*Orchestrator)

func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = log
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// Orchestrator sequences one firmware decision: gather current versions,
// pick a rule, check for in-flight updates, then resolve each channel.
// It holds no per-device state; the artifact resolver is shared.
type Orchestrator struct {
	fleet     FleetClient
	artifacts ArtifactResolver
	notifier  Notifier
	logger    logger.Logger
}

func New(fleet FleetClient, artifacts ArtifactResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fleet:     fleet,
		artifacts: artifacts,
		logger:    logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Decide runs Evaluate and renders the outcome for operators.
func (o *Orchestrator) Decide(ctx context.Context, deviceID string, attrs rules.Attributes, set rules.RuleSet, dryRun bool) (string, error) {
	outcome, err := o.Evaluate(ctx, deviceID, attrs, set, dryRun)
	if err != nil {
		return "", err
	}
	return outcome.String(), nil
}

// Evaluate returns the structured decision. Collaborator failures and
// malformed targets are returned as errors; artifact lookup misses become
// per-channel Unavailable results. attrs is never modified.
func (o *Orchestrator) Evaluate(ctx context.Context, deviceID string, attrs rules.Attributes, set rules.RuleSet, dryRun bool) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("device.uid", deviceID),
		attribute.Bool("firmware.dry_run", dryRun),
	)

	start := time.Now()
	outcome, err := o.evaluate(ctx, deviceID, attrs, set, dryRun)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		metrics.ObserveDecisionDuration("error", time.Since(start))
		o.logger.ErrorwCtx(ctx, "Firmware decision failed", "device", deviceID, "dry_run", dryRun, "error", err)
		return Outcome{}, err
	}

	span.SetAttributes(
		attribute.String("firmware.state", string(outcome.State)),
		attribute.String("firmware.rule_id", outcome.RuleID),
	)
	metrics.IncDecision(string(outcome.State), dryRun)
	metrics.ObserveDecisionDuration(string(outcome.State), time.Since(start))
	for _, ch := range outcome.Channels {
		metrics.IncChannelResult(string(ch.Channel), string(ch.Status))
	}

	o.logger.InfowCtx(ctx, "Firmware decision completed",
		"device", deviceID,
		"rule_id", outcome.RuleID,
		"state", outcome.State,
		"dry_run", dryRun,
		"blocked_by", outcome.BlockedBy,
	)

	return outcome, nil
}

func (o *Orchestrator) evaluate(ctx context.Context, deviceID string, attrs rules.Attributes, set rules.RuleSet, dryRun bool) (Outcome, error) {
	merged, current, err := o.gather(ctx, deviceID, attrs)
	if err != nil {
		return Outcome{}, err
	}

	match, matched, err := rules.Evaluate(merged, set)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{DryRun: dryRun}
	if !matched {
		outcome.State = StateNoMatch
		return outcome, nil
	}
	metrics.IncRuleMatch(match.RuleID)

	outcome.RuleID = match.RuleID
	if match.Target == nil {
		outcome.State = StateSatisfied
		return outcome, nil
	}

	if match.Target.ChannelAgnostic() {
		return Outcome{}, apperrors.ErrConfiguration.
			WithMessage("rule %s: target %q is not keyed by firmware channel", match.RuleID, match.Target.Version).
			WithDetail("rule_id", match.RuleID)
	}

	for _, ch := range rules.Channels {
		status, err := o.fleet.FetchUpdateStatus(ctx, deviceID, ch)
		if err != nil {
			return Outcome{}, collaboratorFailure("update status", ch, err)
		}
		if status.InProgress {
			outcome.State = StateBlocked
			outcome.BlockedBy = ch
			return outcome, nil
		}
	}

	outcome.State = StateEvaluated
	for _, ch := range rules.Channels {
		result, err := o.resolve(ctx, deviceID, ch, current[ch], match, dryRun)
		if err != nil {
			return Outcome{}, err
		}
		outcome.Channels = append(outcome.Channels, result)
	}

	return outcome, nil
}

// gather copies attrs and fills in the current firmware record of every
// channel the caller did not supply.
func (o *Orchestrator) gather(ctx context.Context, deviceID string, attrs rules.Attributes) (rules.Attributes, map[rules.Channel]string, error) {
	merged := make(rules.Attributes, len(attrs)+len(rules.Channels)*2+1)
	for k, v := range attrs {
		merged[k] = v
	}

	current := make(map[rules.Channel]string, len(rules.Channels))
	for _, ch := range rules.Channels {
		recordKey := "firmware_" + string(ch)

		version, ok := suppliedVersion(attrs, ch)
		if ok {
			record, isMap := attrs[recordKey].(map[string]any)
			switch {
			case !isMap:
				merged[recordKey] = map[string]any{"version": version}
			case record["version"] != version:
				// The caller's record lacks the version the flat attribute
				// supplies; extend a copy so rules see both.
				withVersion := make(map[string]any, len(record)+1)
				for k, v := range record {
					withVersion[k] = v
				}
				withVersion["version"] = version
				merged[recordKey] = withVersion
			}
		} else {
			record, err := o.fleet.FetchCurrentFirmware(ctx, deviceID, ch)
			if err != nil {
				return nil, nil, collaboratorFailure("firmware history", ch, err)
			}
			if record == nil {
				record = map[string]any{}
			}
			merged[recordKey] = record
			version, _ = record["version"].(string)
		}

		current[ch] = version
		if _, taken := attrs[string(ch)]; !taken && version != "" {
			merged[string(ch)] = version
		}
	}

	if _, taken := attrs["fleet"]; !taken {
		switch fleets := attrs["fleets"].(type) {
		case string:
			merged["fleet"] = fleets
		case []any:
			if len(fleets) == 1 {
				merged["fleet"] = fleets[0]
			} else if len(fleets) > 1 {
				merged["fleet"] = fleets
			}
		}
	}

	return merged, current, nil
}

func suppliedVersion(attrs rules.Attributes, ch rules.Channel) (string, bool) {
	if record, ok := attrs["firmware_"+string(ch)].(map[string]any); ok {
		if v, ok := record["version"].(string); ok && v != "" {
			return v, true
		}
	}
	if v, ok := attrs[string(ch)+"_firmware"].(string); ok && v != "" {
		return v, true
	}
	return "", false
}

func (o *Orchestrator) resolve(ctx context.Context, deviceID string, ch rules.Channel, current string, match rules.Match, dryRun bool) (ChannelResult, error) {
	result := ChannelResult{Channel: ch, Current: current}

	target, ok := match.Target.For(ch)
	if !ok {
		result.Status = StatusNotRequested
		return result, nil
	}
	result.Target = target

	if target == current {
		result.Status = StatusAtTarget
		return result, nil
	}

	artifact, err := o.artifacts.Retrieve(ctx, string(ch), target)
	if err != nil {
		if apperrors.IsLookup(err) {
			result.Status = StatusUnavailable
			result.Reason = reason(err)
			o.logger.WarnwCtx(ctx, "Firmware artifact unavailable", "device", deviceID, "channel", ch, "version", target, "error", err)
			return result, nil
		}
		return ChannelResult{}, collaboratorFailure("firmware catalog", ch, err)
	}
	result.Artifact = artifact

	if dryRun {
		result.Status = StatusWouldRequest
		return result, nil
	}

	if err := o.fleet.RequestFirmwareUpdate(ctx, deviceID, artifact, ch); err != nil {
		return ChannelResult{}, collaboratorFailure("update request", ch, err)
	}
	result.Status = StatusRequested

	if o.notifier != nil {
		o.notifier.UpdateRequested(ctx, UpdateRequest{
			DeviceID: deviceID,
			Channel:  ch,
			From:     current,
			To:       target,
			Artifact: artifact,
			RuleID:   match.RuleID,
		})
	}

	return result, nil
}

func collaboratorFailure(operation string, ch rules.Channel, err error) error {
	if apperrors.IsCollaborator(err) {
		return err
	}
	return apperrors.ErrCollaborator.
		WithMessage("%s for %s failed: %v", operation, ch, err).
		WithDetail("channel", string(ch)).
		WithCause(err)
}

func reason(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.Reason()
	}
	return err.Error()
}

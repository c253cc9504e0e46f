package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

type updateCall struct {
	DeviceID string
	Filename string
	Channel  rules.Channel
}

type fakeFleet struct {
	history    map[rules.Channel]map[string]any
	inProgress map[rules.Channel]bool
	historyErr error
	statusErr  error
	requestErr error

	historyCalls []rules.Channel
	statusCalls  []rules.Channel
	updates      []updateCall
}

func (f *fakeFleet) FetchCurrentFirmware(ctx context.Context, deviceID string, channel rules.Channel) (map[string]any, error) {
	f.historyCalls = append(f.historyCalls, channel)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[channel], nil
}

func (f *fakeFleet) FetchUpdateStatus(ctx context.Context, deviceID string, channel rules.Channel) (UpdateStatus, error) {
	f.statusCalls = append(f.statusCalls, channel)
	if f.statusErr != nil {
		return UpdateStatus{}, f.statusErr
	}
	return UpdateStatus{InProgress: f.inProgress[channel]}, nil
}

func (f *fakeFleet) RequestFirmwareUpdate(ctx context.Context, deviceID, filename string, channel rules.Channel) error {
	if f.requestErr != nil {
		return f.requestErr
	}
	f.updates = append(f.updates, updateCall{DeviceID: deviceID, Filename: filename, Channel: channel})
	return nil
}

type fakeArtifacts struct {
	files map[string]map[string]string
	err   error
	calls int
}

func (f *fakeArtifacts) Retrieve(ctx context.Context, channel, version string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	file, ok := f.files[channel][version]
	if !ok {
		return "", apperrors.ErrLookupMiss.WithMessage("Firmware version %s for %s not available in local firmware cache", version, channel)
	}
	return file, nil
}

type recordingNotifier struct {
	requests []UpdateRequest
}

func (r *recordingNotifier) UpdateRequested(ctx context.Context, req UpdateRequest) {
	r.requests = append(r.requests, req)
}

const testFleet = "fleet:50b4f0ee-b8e4-4c9c-b321-243ff1f9e487"

func defaultArtifacts() *fakeArtifacts {
	return &fakeArtifacts{files: map[string]map[string]string{
		"notecard": {
			"7.5.2.17004": "notecard-7.5.2.17004.bin",
			"8.1.3.17044": "notecard-8.1.3.17044.bin",
			"8.1.3":       "notecard-8.1.3.bin",
		},
		"host": {
			"3.1.2": "host-3.1.2.bin",
		},
	}}
}

func scenarioRules() rules.RuleSet {
	return rules.RuleSet{
		{
			Conditions: map[string]rules.Condition{"notecard": rules.VersionPrefix("7.5.1.")},
			Target:     rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "7.5.2.17004"}),
		},
		{
			Conditions: map[string]rules.Condition{
				"notecard": rules.MajorBelow(8),
				"fleet":    rules.FleetsContain(testFleet),
			},
			Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3.17044"}),
		},
	}
}

func TestDecideFirstRuleWins(t *testing.T) {
	fleet := &fakeFleet{}
	o := New(fleet, defaultArtifacts())

	attrs := rules.Attributes{
		"firmware_notecard": map[string]any{"version": "7.5.1.9999"},
		"firmware_host":     map[string]any{"version": "1.0.0"},
		"fleets":            []any{testFleet},
	}

	got, err := o.Decide(context.Background(), "dev:1", attrs, scenarioRules(), false)
	require.NoError(t, err)

	assert.Equal(t, "According to rule id rule-1, Requested notecard firmware update from 7.5.1.9999 to 7.5.2.17004. No firmware update request for host", got)
	require.Len(t, fleet.updates, 1)
	assert.Equal(t, updateCall{DeviceID: "dev:1", Filename: "notecard-7.5.2.17004.bin", Channel: rules.ChannelNotecard}, fleet.updates[0])
	assert.Empty(t, fleet.historyCalls)
}

func TestDecideAlreadyAtTarget(t *testing.T) {
	fleet := &fakeFleet{}
	artifacts := defaultArtifacts()
	o := New(fleet, artifacts)

	set := rules.Single(rules.Rule{
		ID:     "pinned",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3", rules.ChannelHost: "3.1.2"}),
	})
	attrs := rules.Attributes{
		"firmware_notecard": map[string]any{"version": "8.1.3"},
		"firmware_host":     map[string]any{"version": "3.1.2"},
	}

	got, err := o.Decide(context.Background(), "dev:1", attrs, set, false)
	require.NoError(t, err)

	assert.Equal(t, "According to rule id pinned, Skipping update request for notecard. Already at target version of 8.1.3. Skipping update request for host. Already at target version of 3.1.2.", got)
	assert.Empty(t, fleet.updates)
	assert.Zero(t, artifacts.calls)
}

func TestDecideBlockedOnNotecard(t *testing.T) {
	fleet := &fakeFleet{inProgress: map[rules.Channel]bool{rules.ChannelNotecard: true, rules.ChannelHost: true}}
	artifacts := defaultArtifacts()
	o := New(fleet, artifacts)

	set := rules.Single(rules.Rule{
		ID:     "upgrade",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3", rules.ChannelHost: "3.1.2"}),
	})
	attrs := rules.Attributes{"notecard_firmware": "7.0.0", "host_firmware": "1.0.0"}

	got, err := o.Decide(context.Background(), "dev:1", attrs, set, false)
	require.NoError(t, err)

	assert.Equal(t, "According to rule id upgrade, firmware requirements NOT met.  Update not requested because Notecard update is in progress", got)
	assert.Equal(t, []rules.Channel{rules.ChannelNotecard}, fleet.statusCalls)
	assert.Empty(t, fleet.updates)
	assert.Zero(t, artifacts.calls)
}

func TestDecideBlockedOnHost(t *testing.T) {
	fleet := &fakeFleet{inProgress: map[rules.Channel]bool{rules.ChannelHost: true}}
	o := New(fleet, defaultArtifacts())

	set := rules.Single(rules.Rule{
		ID:     "upgrade",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3"}),
	})
	attrs := rules.Attributes{"notecard_firmware": "7.0.0", "host_firmware": "1.0.0"}

	outcome, err := o.Evaluate(context.Background(), "dev:1", attrs, set, false)
	require.NoError(t, err)

	assert.Equal(t, StateBlocked, outcome.State)
	assert.Equal(t, rules.ChannelHost, outcome.BlockedBy)
	assert.Contains(t, outcome.String(), "because Host update is in progress")
	assert.Equal(t, []rules.Channel{rules.ChannelNotecard, rules.ChannelHost}, fleet.statusCalls)
}

func TestDecideDryRunVersusLive(t *testing.T) {
	set := rules.Single(rules.Rule{
		ID:     "upgrade",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3", rules.ChannelHost: "3.1.2"}),
	})
	attrs := rules.Attributes{
		"firmware_notecard": map[string]any{"version": "7.0.0"},
		"firmware_host":     map[string]any{"version": "1.0.0"},
	}

	dryFleet := &fakeFleet{}
	dry, err := New(dryFleet, defaultArtifacts()).Decide(context.Background(), "dev:1", attrs, set, true)
	require.NoError(t, err)
	assert.Equal(t, "[DRY RUN] According to rule id upgrade, Would request notecard firmware update from 7.0.0 to 8.1.3. Would request host firmware update from 1.0.0 to 3.1.2.", dry)
	assert.Empty(t, dryFleet.updates)

	liveFleet := &fakeFleet{}
	notifier := &recordingNotifier{}
	live, err := New(liveFleet, defaultArtifacts(), WithNotifier(notifier)).Decide(context.Background(), "dev:1", attrs, set, false)
	require.NoError(t, err)
	assert.Equal(t, "According to rule id upgrade, Requested notecard firmware update from 7.0.0 to 8.1.3. Requested host firmware update from 1.0.0 to 3.1.2.", live)
	require.Len(t, liveFleet.updates, 2)
	assert.Equal(t, rules.ChannelNotecard, liveFleet.updates[0].Channel)
	assert.Equal(t, rules.ChannelHost, liveFleet.updates[1].Channel)
	require.Len(t, notifier.requests, 2)
	assert.Equal(t, "upgrade", notifier.requests[0].RuleID)
	assert.Equal(t, "7.0.0", notifier.requests[0].From)
}

func TestDecideNoMatchAndSatisfied(t *testing.T) {
	fleet := &fakeFleet{history: map[rules.Channel]map[string]any{
		rules.ChannelNotecard: {"version": "9.0.0"},
	}}
	o := New(fleet, defaultArtifacts())

	got, err := o.Decide(context.Background(), "dev:1", rules.Attributes{}, scenarioRules(), false)
	require.NoError(t, err)
	assert.Equal(t, "No rule conditions met. No updates required", got)
	assert.Empty(t, fleet.statusCalls)

	got, err = o.Decide(context.Background(), "dev:1", rules.Attributes{}, rules.DefaultRules(), false)
	require.NoError(t, err)
	assert.Equal(t, "According to rule id default, firmware requirements met, no updates required", got)
	assert.Empty(t, fleet.statusCalls)

	got, err = o.Decide(context.Background(), "dev:1", rules.Attributes{}, rules.DefaultRules(), true)
	require.NoError(t, err)
	assert.Equal(t, "[DRY RUN] According to rule id default, firmware requirements met, no updates required", got)
}

func TestDecideFetchesMissingVersions(t *testing.T) {
	fleet := &fakeFleet{history: map[rules.Channel]map[string]any{
		rules.ChannelNotecard: {"version": "6.2.5.16868", "built": "2024"},
	}}
	o := New(fleet, defaultArtifacts())

	attrs := rules.Attributes{"device": "dev:1", "fleets": []any{testFleet}}
	got, err := o.Decide(context.Background(), "dev:1", attrs, scenarioRules(), true)
	require.NoError(t, err)

	assert.Equal(t, "[DRY RUN] According to rule id rule-2, Would request notecard firmware update from 6.2.5.16868 to 8.1.3.17044. No firmware update request for host", got)
	assert.Equal(t, []rules.Channel{rules.ChannelNotecard, rules.ChannelHost}, fleet.historyCalls)
	assert.NotContains(t, attrs, "firmware_notecard")
	assert.NotContains(t, attrs, "notecard")
}

func TestDecideFlatVersionExtendsSuppliedRecord(t *testing.T) {
	fleet := &fakeFleet{}
	o := New(fleet, defaultArtifacts())

	set := rules.Single(rules.Rule{
		ID: "record-version",
		Conditions: map[string]rules.Condition{
			"firmware_notecard.version": rules.Literal("7.5.1.1"),
			"firmware_notecard.built":   rules.Literal("x"),
		},
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelHost: "3.1.2"}),
	})
	supplied := map[string]any{"built": "x"}
	attrs := rules.Attributes{
		"firmware_notecard": supplied,
		"notecard_firmware": "7.5.1.1",
		"host_firmware":     "1.0.0",
	}

	got, err := o.Decide(context.Background(), "dev:1", attrs, set, true)
	require.NoError(t, err)
	assert.Contains(t, got, "According to rule id record-version")
	assert.Contains(t, got, "Would request host firmware update from 1.0.0 to 3.1.2")
	assert.Empty(t, fleet.historyCalls)
	assert.Equal(t, map[string]any{"built": "x"}, supplied)
}

func TestDecideUnknownCurrentVersion(t *testing.T) {
	fleet := &fakeFleet{}
	o := New(fleet, defaultArtifacts())

	set := rules.Single(rules.Rule{
		ID:     "host",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelHost: "3.1.2"}),
	})

	got, err := o.Decide(context.Background(), "dev:1", rules.Attributes{}, set, true)
	require.NoError(t, err)
	assert.Equal(t, "[DRY RUN] According to rule id host, No firmware update request for notecard Would request host firmware update from unknown to 3.1.2.", got)
}

func TestDecideCacheMissIsChannelScoped(t *testing.T) {
	fleet := &fakeFleet{}
	o := New(fleet, defaultArtifacts())

	set := rules.Single(rules.Rule{
		ID:     "upgrade",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "9.9.9", rules.ChannelHost: "3.1.2"}),
	})
	attrs := rules.Attributes{"notecard_firmware": "7.0.0", "host_firmware": "1.0.0"}

	outcome, err := o.Evaluate(context.Background(), "dev:1", attrs, set, false)
	require.NoError(t, err)

	require.Len(t, outcome.Channels, 2)
	assert.Equal(t, StatusUnavailable, outcome.Channels[0].Status)
	assert.Equal(t, StatusRequested, outcome.Channels[1].Status)
	assert.Equal(t, "According to rule id upgrade, Cannot update notecard firmware: Firmware version 9.9.9 for notecard not available in local firmware cache. Requested host firmware update from 1.0.0 to 3.1.2.", outcome.String())
	require.Len(t, fleet.updates, 1)
	assert.Equal(t, rules.ChannelHost, fleet.updates[0].Channel)
	assert.Len(t, outcome.Requested(), 1)
}

func TestDecideCollaboratorFailuresPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	set := rules.Single(rules.Rule{
		ID:     "upgrade",
		Target: rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3"}),
	})
	attrs := rules.Attributes{"notecard_firmware": "7.0.0", "host_firmware": "1.0.0"}

	tests := []struct {
		name      string
		fleet     *fakeFleet
		artifacts *fakeArtifacts
		attrs     rules.Attributes
	}{
		{
			name:      "history",
			fleet:     &fakeFleet{historyErr: boom},
			artifacts: defaultArtifacts(),
			attrs:     rules.Attributes{},
		},
		{
			name:      "status",
			fleet:     &fakeFleet{statusErr: boom},
			artifacts: defaultArtifacts(),
			attrs:     attrs,
		},
		{
			name:      "catalog refresh",
			fleet:     &fakeFleet{},
			artifacts: &fakeArtifacts{err: boom},
			attrs:     attrs,
		},
		{
			name:      "update request",
			fleet:     &fakeFleet{requestErr: boom},
			artifacts: defaultArtifacts(),
			attrs:     attrs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fleet, tt.artifacts).Decide(context.Background(), "dev:1", tt.attrs, set, false)
			require.Error(t, err)
			assert.True(t, apperrors.IsCollaborator(err))
			assert.ErrorIs(t, err, boom)
		})
	}
}

func TestDecideChannelAgnosticTargetIsConfigurationError(t *testing.T) {
	fleet := &fakeFleet{}
	o := New(fleet, defaultArtifacts())

	set := rules.Single(rules.Rule{ID: "opaque", Target: rules.VersionTarget("8.1.3")})
	_, err := o.Decide(context.Background(), "dev:1", rules.Attributes{"notecard_firmware": "1", "host_firmware": "1"}, set, false)

	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Empty(t, fleet.statusCalls)
}

func TestDecidePredicateFailurePropagates(t *testing.T) {
	o := New(&fakeFleet{}, defaultArtifacts())

	set := rules.Single(rules.Rule{
		Conditions: map[string]rules.Condition{"notecard": rules.MajorBelow(8)},
		Target:     rules.ChannelTarget(map[rules.Channel]string{rules.ChannelNotecard: "8.1.3"}),
	})
	_, err := o.Decide(context.Background(), "dev:1", rules.Attributes{"notecard_firmware": "garbage", "host_firmware": "1"}, set, false)

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    string
	}{
		{
			name:    "no match dry run",
			outcome: Outcome{State: StateNoMatch, DryRun: true},
			want:    "[DRY RUN] No rule conditions met. No updates required",
		},
		{
			name:    "blocked",
			outcome: Outcome{State: StateBlocked, RuleID: "r", BlockedBy: rules.ChannelNotecard},
			want:    "According to rule id r, firmware requirements NOT met.  Update not requested because Notecard update is in progress",
		},
		{
			name: "unavailable reason keeps one period",
			outcome: Outcome{State: StateEvaluated, RuleID: "r", Channels: []ChannelResult{
				{Channel: rules.ChannelNotecard, Status: StatusUnavailable, Reason: "gone."},
				{Channel: rules.ChannelHost, Status: StatusNotRequested},
			}},
			want: "According to rule id r, Cannot update notecard firmware: gone. No firmware update request for host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.outcome.String())
		})
	}
}

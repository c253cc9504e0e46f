package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdate/internal/logger"
	"fwupdate/internal/orchestrator"
	"fwupdate/internal/rules"
	"fwupdate/pkg/models"
)

type fakeProducer struct {
	mu        sync.Mutex
	err       error
	topics    []string
	envelopes []models.MessageEnvelope
	deadlines []bool
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	f.topics = append(f.topics, topic)
	f.envelopes = append(f.envelopes, msg)
	return f.err
}

func (f *fakeProducer) Close() error { return nil }

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) ReloadRules(context.Context) error {
	f.calls++
	return f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestPublisherUpdateRequested(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, "firmware-events", logger.NopLogger(), WithProject("app:1234"))
	p.now = fixedNow

	p.UpdateRequested(context.Background(), orchestrator.UpdateRequest{
		DeviceID: "dev:1",
		Channel:  rules.ChannelNotecard,
		From:     "7.5.1.17000",
		To:       "7.5.2.17004",
		Artifact: "notecard-7.5.2.17004.bin",
		RuleID:   "rule-1",
	})

	require.Len(t, producer.envelopes, 1)
	assert.Equal(t, "firmware-events", producer.topics[0])
	assert.True(t, producer.deadlines[0])

	env := producer.envelopes[0]
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, "firmware-service", env.Source)
	assert.Equal(t, "app:1234", env.Metadata.ProjectID)
	assert.Equal(t, models.EventTypeUpdateRequested, env.EventType())
	require.NoError(t, models.ValidateMessageEnvelope(&env))

	var event models.UpdateRequestedEvent
	require.NoError(t, env.DecodePayload(&event))
	assert.Equal(t, models.UpdateRequestedEvent{
		EventType:   models.EventTypeUpdateRequested,
		DeviceUID:   "dev:1",
		Channel:     "notecard",
		FromVersion: "7.5.1.17000",
		ToVersion:   "7.5.2.17004",
		Artifact:    "notecard-7.5.2.17004.bin",
		RuleID:      "rule-1",
		Timestamp:   fixedNow(),
	}, event)
}

func TestPublisherSwallowsErrors(t *testing.T) {
	producer := &fakeProducer{err: errors.New("broker down")}
	p := NewPublisher(producer, "firmware-events", logger.NopLogger())

	assert.NotPanics(t, func() {
		p.UpdateRequested(context.Background(), orchestrator.UpdateRequest{DeviceID: "dev:1"})
	})
	assert.Len(t, producer.envelopes, 1)
}

func TestPublisherSurvivesCanceledRequest(t *testing.T) {
	producer := &fakeProducer{}
	p := NewPublisher(producer, "firmware-events", logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.UpdateRequested(ctx, orchestrator.UpdateRequest{DeviceID: "dev:1"})

	assert.Len(t, producer.envelopes, 1)
}

func TestPublisherDisabled(t *testing.T) {
	producer := &fakeProducer{}
	NewPublisher(producer, "", logger.NopLogger()).UpdateRequested(context.Background(), orchestrator.UpdateRequest{})
	NewPublisher(nil, "topic", logger.NopLogger()).UpdateRequested(context.Background(), orchestrator.UpdateRequest{})
	assert.Empty(t, producer.envelopes)
}

func TestRulesChangedRoundTrip(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewRulesChangedPublisher(producer, "firmware-rules")
	pub.now = fixedNow

	require.NoError(t, pub.PublishRulesChanged(context.Background(), models.ActionUpdate, "r-1", "ops"))
	require.Len(t, producer.envelopes, 1)
	assert.Equal(t, "firmware-rules", producer.topics[0])

	reloader := &fakeReloader{}
	h := NewRulesChangedHandler(reloader, logger.NopLogger())
	require.NoError(t, h.Handle(context.Background(), producer.envelopes[0]))
	assert.Equal(t, 1, reloader.calls)
}

func TestRulesChangedPublisherNil(t *testing.T) {
	var pub *RulesChangedPublisher
	assert.NoError(t, pub.PublishRulesChanged(context.Background(), models.ActionCreate, "r-1", ""))
	assert.NoError(t, NewRulesChangedPublisher(nil, "t").PublishRulesChanged(context.Background(), models.ActionCreate, "r-1", ""))
}

func TestRulesChangedHandler(t *testing.T) {
	tests := []struct {
		name      string
		envelope  models.MessageEnvelope
		reloadErr error
		wantCalls int
		wantErr   bool
	}{
		{
			name:     "missing event type",
			envelope: models.MessageEnvelope{ID: "1", Payload: map[string]interface{}{}},
		},
		{
			name: "other event type",
			envelope: models.MessageEnvelope{
				ID:       "2",
				Payload:  map[string]interface{}{},
				Metadata: models.Metadata{EventType: models.EventTypeUpdateRequested},
			},
		},
		{
			name: "event type from payload",
			envelope: models.MessageEnvelope{
				ID:      "3",
				Payload: map[string]interface{}{"event_type": models.EventTypeRulesChanged, "action": "reload"},
			},
			wantCalls: 1,
		},
		{
			name: "reload failure",
			envelope: models.MessageEnvelope{
				ID:       "4",
				Payload:  map[string]interface{}{"action": "delete"},
				Metadata: models.Metadata{EventType: models.EventTypeRulesChanged},
			},
			reloadErr: errors.New("db down"),
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name: "undecodable payload",
			envelope: models.MessageEnvelope{
				ID:       "5",
				Payload:  map[string]interface{}{"action": 12},
				Metadata: models.Metadata{EventType: models.EventTypeRulesChanged},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reloader := &fakeReloader{err: tt.reloadErr}
			err := NewRulesChangedHandler(reloader, logger.NopLogger()).Handle(context.Background(), tt.envelope)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, reloader.calls)
		})
	}
}

type blockingProducer struct {
	err error
}

func (b *blockingProducer) Publish(ctx context.Context, _ string, _ models.MessageEnvelope) error {
	<-ctx.Done()
	b.err = ctx.Err()
	return b.err
}

func (b *blockingProducer) Close() error { return nil }

func TestPublisherTimeout(t *testing.T) {
	producer := &blockingProducer{}
	p := NewPublisher(producer, "firmware-events", logger.NopLogger(), WithPublishTimeout(20*time.Millisecond))

	start := time.Now()
	p.UpdateRequested(context.Background(), orchestrator.UpdateRequest{DeviceID: "dev:1", Channel: rules.ChannelHost})

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, producer.err, context.DeadlineExceeded)
}

package events

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"fwupdate/internal/broker"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/internal/orchestrator"
	"fwupdate/pkg/models"
)

var _ orchestrator.Notifier = (*Publisher)(nil)

// Publisher writes a firmware_update_requested event for every update the
// orchestrator requested. Publishing never fails the decision.
type Publisher struct {
	producer   broker.Producer
	topic      string
	projectUID string
	source     string
	timeout    time.Duration
	logger     logger.Logger
	now        func() time.Time
}

type PublisherOption func(*Publisher)

func WithSource(source string) PublisherOption {
	return func(p *Publisher) {
		p.source = source
	}
}

func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.timeout = timeout
	}
}

func WithProject(projectUID string) PublisherOption {
	return func(p *Publisher) {
		p.projectUID = projectUID
	}
}

func NewPublisher(producer broker.Producer, topic string, log logger.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		source:   constants.ServiceName,
		timeout:  constants.EventPublishTimeout,
		logger:   log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) UpdateRequested(ctx context.Context, req orchestrator.UpdateRequest) {
	if p.producer == nil || p.topic == "" {
		return
	}

	event := models.UpdateRequestedEvent{
		EventType:   models.EventTypeUpdateRequested,
		DeviceUID:   req.DeviceID,
		Channel:     string(req.Channel),
		FromVersion: req.From,
		ToVersion:   req.To,
		Artifact:    req.Artifact,
		RuleID:      req.RuleID,
		Timestamp:   p.now(),
	}

	if err := publish(ctx, p.producer, p.topic, p.source, p.projectUID, p.timeout, event.EventType, event); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to publish update event",
			"error", err,
			"topic", p.topic,
			"channel", event.Channel,
		)
	}
}

func publish(ctx context.Context, producer broker.Producer, topic, source, projectUID string, timeout time.Duration, eventType string, event interface{}) error {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	env, err := models.NewEnvelope(source, eventType, event, models.WithProject(projectUID), models.WithTraceID(traceID))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	return producer.Publish(ctx, topic, *env)
}

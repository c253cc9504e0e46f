package events

import (
	"context"
	"time"

	"fwupdate/internal/broker"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/models"
)

// RulesChangedPublisher announces rule edits so every instance reloads.
type RulesChangedPublisher struct {
	producer broker.Producer
	topic    string
	source   string
	now      func() time.Time
}

func NewRulesChangedPublisher(producer broker.Producer, topic string) *RulesChangedPublisher {
	return &RulesChangedPublisher{
		producer: producer,
		topic:    topic,
		source:   constants.ServiceName,
		now:      time.Now,
	}
}

func (p *RulesChangedPublisher) PublishRulesChanged(ctx context.Context, action, ruleID, changedBy string) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}

	event := models.RulesChangedEvent{
		EventType: models.EventTypeRulesChanged,
		RuleID:    ruleID,
		Action:    action,
		Timestamp: p.now(),
		ChangedBy: changedBy,
	}
	return publish(ctx, p.producer, p.topic, p.source, "", constants.EventPublishTimeout, event.EventType, event)
}

type RulesReloader interface {
	ReloadRules(ctx context.Context) error
}

// RulesChangedHandler reloads the local rule set whenever a rules changed
// event arrives. Other event types are ignored.
type RulesChangedHandler struct {
	reloader RulesReloader
	logger   logger.Logger
}

func NewRulesChangedHandler(reloader RulesReloader, log logger.Logger) *RulesChangedHandler {
	return &RulesChangedHandler{reloader: reloader, logger: log}
}

func (h *RulesChangedHandler) Handle(ctx context.Context, envelope models.MessageEnvelope) error {
	eventType := envelope.EventType()
	if eventType == "" {
		h.logger.WarnwCtx(ctx, "Rules event missing event_type", "id", envelope.ID)
		return nil
	}
	if eventType != models.EventTypeRulesChanged {
		return nil
	}

	var event models.RulesChangedEvent
	if err := envelope.DecodePayload(&event); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to decode rules event", "error", err, "id", envelope.ID)
		return err
	}

	h.logger.InfowCtx(ctx, "Received rules changed event",
		"action", event.Action,
		"rule_id", event.RuleID,
		"changed_by", event.ChangedBy,
	)

	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload rules after change", "error", err)
		return err
	}
	return nil
}

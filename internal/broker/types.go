package broker

import (
	"context"

	"fwupdate/pkg/models"
)

// Producer writes envelopes to a topic. Decision events and rule change
// notifications share it.
type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

// Consumer delivers envelopes from one topic to a handler, blocking until
// ctx ends. Handler errors are logged and the message is still committed.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

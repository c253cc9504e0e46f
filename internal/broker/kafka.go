package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/logger"
	"fwupdate/pkg/errors"
	"fwupdate/pkg/logging"
	"fwupdate/pkg/metrics"
	"fwupdate/pkg/models"
	"fwupdate/pkg/tracing"
)

const (
	headerEventType = "event_type"
	fetchRetryDelay = time.Second
	readerMaxBytes  = 1 << 20
	keyDeviceUID    = "device_uid"
	keyRuleID       = "rule_id"
)

// KafkaProducer writes envelopes synchronously so a failed write is seen
// by the caller.
type KafkaProducer struct {
	writer  *kafka.Writer
	service string
}

func NewKafkaProducer(cfg config.KafkaConfig, service string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			BatchTimeout:           constants.KafkaBatchTimeout,
			WriteTimeout:           constants.KafkaWriteTimeout,
			AllowAutoTopicCreation: true,
		},
		service: service,
	}
}

// messageKey keeps the events of one device (or one rule) on one partition,
// so consumers see them in order.
func messageKey(msg models.MessageEnvelope) []byte {
	for _, field := range []string{keyDeviceUID, keyRuleID} {
		if v, ok := msg.Payload[field].(string); ok && v != "" {
			return []byte(v)
		}
	}
	return []byte(msg.ID)
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := []kafka.Header{{Key: headerEventType, Value: []byte(msg.EventType())}}
	headers = tracing.InjectTraceContext(ctx, headers)

	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     messageKey(msg),
		Value:   body,
		Headers: headers,
		Time:    msg.Timestamp,
	})
	metrics.ObserveKafkaWriteDuration(p.service, topic, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", msg.EventType(), topic, err)
	}

	metrics.IncKafkaMessagesWritten(p.service, topic)
	metrics.ObserveKafkaMessageSize(p.service, topic, "out", len(body))
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic in its configured group. New groups start
// at the tail: rules loaded at startup already reflect older events.
type KafkaConsumer struct {
	cfg     config.KafkaConfig
	service string
	logger  logger.Logger

	mu     sync.Mutex
	reader *kafka.Reader
}

func NewKafkaConsumer(cfg config.KafkaConfig, service string, log logger.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, service: service, logger: log}
}

// Consume blocks, handing each message on topic to handler, until ctx is
// done. Handler failures are logged and the message is committed anyway:
// rule change events are idempotent and the next one supersedes it.
func (c *KafkaConsumer) Consume(ctx context.Context, topic string, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.cfg.Brokers,
		GroupID:     c.cfg.GroupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    readerMaxBytes,
		StartOffset: kafka.LastOffset,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	ctx = logging.WithServiceName(ctx, c.service)
	c.logger.InfowCtx(ctx, "Consuming topic", "topic", topic, "group_id", c.cfg.GroupID)

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.InfowCtx(ctx, "Stopped consuming", "topic", topic)
				return ctx.Err()
			}
			c.logger.ErrorwCtx(ctx, "Error fetching kafka message", "topic", topic, "error", err)
			select {
			case <-time.After(fetchRetryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		c.deliver(ctx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit message", "topic", topic, "offset", m.Offset, "error", err)
		}
	}
}

func (c *KafkaConsumer) deliver(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	var envelope models.MessageEnvelope
	if err := json.Unmarshal(m.Value, &envelope); err != nil {
		c.logger.WarnwCtx(ctx, "Skipping undecodable message", "topic", m.Topic, "offset", m.Offset, "error", err)
		return
	}
	if err := models.ValidateMessageEnvelope(&envelope); err != nil {
		c.logger.WarnwCtx(ctx, "Skipping invalid message", "topic", m.Topic, "offset", m.Offset, "error", err)
		return
	}

	ctx, span := tracing.StartConsumerSpan(ctx, m)
	defer span.End()
	ctx = logging.WithRequestID(ctx, envelope.ID)

	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorwCtx(ctx, "Panic recovered while handling message",
				"topic", m.Topic,
				"event_type", envelope.EventType(),
				"error", errors.RecoverPanic(r),
			)
		}
	}()

	if err := handler(ctx, envelope); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to handle message",
			"topic", m.Topic,
			"event_type", envelope.EventType(),
			"error", err,
		)
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"fwupdate/internal/broker"
	"fwupdate/internal/config"
	"fwupdate/internal/logger"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the producer when any topic is configured and the
// rules consumer when a rules topic is. Without Kafka both stay nil.
func (b *Base) InitBroker(serviceName string) error {
	kafka := b.Config.Broker.Kafka
	if !kafka.Enabled() && !kafka.RulesEventsEnabled() {
		b.Logger.Infow("Kafka not configured, events disabled")
		return nil
	}

	producer, err := broker.NewProducer(b.Config.Broker, serviceName)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	var consumer broker.Consumer
	if kafka.RulesEventsEnabled() {
		perInstance := b.Config.Broker
		perInstance.Kafka.GroupID = broker.InstanceGroupID(kafka.GroupID)

		consumer, err = broker.NewConsumer(perInstance, serviceName, b.Logger)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to create consumer: %w", err), producer.Close())
		}
	}

	b.Producer, b.Consumer = producer, consumer
	return nil
}

// ShutdownBroker closes the consumer before the producer so a rules event
// being handled can still publish.
func (b *Base) ShutdownBroker() error {
	var errs []error
	if b.Consumer != nil {
		if err := b.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown runs additionalShutdown first, so the HTTP server stops taking
// decisions before the broker closes, then closes the broker.
func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.InfowCtx(ctx, "Shutting down application")

	var errs []error
	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}
	errs = append(errs, b.ShutdownBroker())

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}

	b.Logger.InfowCtx(ctx, "Application exited successfully")
	return nil
}

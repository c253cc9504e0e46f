package broker

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"fwupdate/internal/config"
	"fwupdate/internal/logger"
)

// NewProducer returns a producer tagged with service in metrics.
func NewProducer(cfg config.BrokerConfig, service string) (Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	return NewKafkaProducer(cfg.Kafka, service), nil
}

func NewConsumer(cfg config.BrokerConfig, service string, log logger.Logger) (Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Kafka.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group id is required")
	}
	return NewKafkaConsumer(cfg.Kafka, service, log), nil
}

// InstanceGroupID gives each instance its own consumer group so every
// instance sees every rules event.
func InstanceGroupID(base string) string {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = uuid.New().String()
	}
	return fmt.Sprintf("%s-%s", base, instance)
}

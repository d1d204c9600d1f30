package broker

import (
	"errors"
	"fmt"

	"fluxrules/internal/config"
	"fluxrules/internal/logger"
)

// ErrNoBrokers is returned when a kafka broker is requested without addresses.
var ErrNoBrokers = errors.New("broker: no kafka brokers configured")

func checkKafka(cfg config.BrokerConfig) error {
	if cfg.Type != "kafka" {
		return fmt.Errorf("broker: unsupported type %q", cfg.Type)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return ErrNoBrokers
	}
	return nil
}

// NewProducer builds the producer for cfg.Type.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if err := checkKafka(cfg); err != nil {
		return nil, err
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

// NewConsumer builds the consumer for cfg.Type.
func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if err := checkKafka(cfg); err != nil {
		return nil, err
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}

package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/pricio/internal/models"
)

// Producer is the part of *kafka.Producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// NewKafkaProducer connects a producer to broker.
func NewKafkaProducer(broker string) (*kafka.Producer, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": broker,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher delivers drop events to a topic as JSON keyed by listing id.
// A delivery counts once the broker acknowledged it.
type KafkaPublisher struct {
	producer Producer
	topic    string
	logger   logrus.FieldLogger
}

func NewKafkaPublisher(producer Producer, topic string, logger logrus.FieldLogger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Deliver(ctx context.Context, e models.PriceDropEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode drop event: %w", err)
	}

	report := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.ListingID.String()),
		Value:          payload,
	}, report)
	if err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-report:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery report %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("message delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	}
}

// Close flushes pending messages and closes the producer.
func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		p.logger.Warnf("%d Kafka messages not flushed", remaining)
	}
	p.producer.Close()
}

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"

	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/notifier"
)

// MessageReader is the part of *kafka.Consumer the drop consumer uses.
type MessageReader interface {
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
}

// NewKafkaConsumer joins group and subscribes to topic. Offsets are committed
// manually by Consumer.
func NewKafkaConsumer(broker, topic, group string) (*kafka.Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  broker,
		"group.id":           group,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	if err := c.SubscribeTopics([]string{topic}, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return c, nil
}

// ConsumerConfig tunes the consume loop.
type ConsumerConfig struct {
	// PollTimeout bounds a single read so the loop notices shutdown.
	PollTimeout time.Duration

	// RetryDelay is the pause between delivery attempts of the same event.
	RetryDelay time.Duration

	// MaxAttempts bounds the attempts per event. An event that still fails is
	// logged and committed so later events on the partition are not held up.
	MaxAttempts int
}

// Consumer reads price drop events from Kafka and hands them to a deliverer.
// Offsets are committed after a successful delivery, so an event is delivered at
// least once; the deliverer's own log filters repeats. An event that fails
// MaxAttempts times is given up and committed.
type Consumer struct {
	reader    MessageReader
	deliverer notifier.Deliverer
	cfg       ConsumerConfig
	logger    logrus.FieldLogger
}

func NewConsumer(reader MessageReader, deliverer notifier.Deliverer, cfg ConsumerConfig, logger logrus.FieldLogger) *Consumer {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Consumer{reader: reader, deliverer: deliverer, cfg: cfg, logger: logger}
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting drop consumer")

	for ctx.Err() == nil {
		msg, err := c.reader.ReadMessage(c.cfg.PollTimeout)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				continue
			}
			c.logger.Errorf("Kafka read error: %v", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		var event models.PriceDropEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// unreadable payloads are committed so they do not block the partition
			c.logger.Warnf("Dropping malformed event at %v: %v", msg.TopicPartition, err)
			c.commit(msg)
			continue
		}

		if !c.deliver(ctx, event) {
			return nil
		}
		c.commit(msg)
	}
	return nil
}

// deliver retries the event up to MaxAttempts times. It returns false on shutdown
// and true once the event is delivered or given up.
func (c *Consumer) deliver(ctx context.Context, event models.PriceDropEvent) bool {
	log := c.logger.WithFields(logrus.Fields{"listing": event.ListingID, "observation": event.ObservationID})
	for attempt := 1; ; attempt++ {
		err := c.deliverer.Deliver(ctx, event)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= c.cfg.MaxAttempts {
			log.Errorf("Giving up on event after %d attempts: %v", attempt, err)
			return true
		}
		log.Errorf("Delivery failed (attempt %d/%d, retrying in %s): %v", attempt, c.cfg.MaxAttempts, c.cfg.RetryDelay, err)
		if !sleep(ctx, c.cfg.RetryDelay) {
			return false
		}
	}
}

func (c *Consumer) commit(msg *kafka.Message) {
	if _, err := c.reader.CommitMessage(msg); err != nil {
		c.logger.Warnf("Failed to commit offset: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

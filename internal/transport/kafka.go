package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

const defaultKafkaWriteTimeout = 10 * time.Second

var (
	// ErrInvalidKafkaConfig is returned by NewKafka without brokers or topic.
	ErrInvalidKafkaConfig = errors.New("invalid kafka config")

	_ dispatch.Transport = (*Kafka)(nil)
)

// messageWriter is the part of *kafka.Writer Kafka uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each notification as one JSON message keyed by check name, so the
// notifications of a check stay ordered within a partition. Writes wait for all in-sync
// replicas before Send returns.
type Kafka struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafka returns a Kafka transport writing to cfg.Topic.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	brokers := make([]string, 0, len(cfg.Brokers))

	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	switch {
	case len(brokers) == 0:
		return nil, fmt.Errorf("%w: brokers are empty", ErrInvalidKafkaConfig)
	case strings.TrimSpace(cfg.Topic) == "":
		return nil, fmt.Errorf("%w: topic is empty", ErrInvalidKafkaConfig)
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           timeout,
		AllowAutoTopicCreation: true,
	}

	return &Kafka{writer: writer, topic: cfg.Topic, timeout: timeout}, nil
}

// Name implements dispatch.Transport.
func (k *Kafka) Name() string { return "kafka" }

// Send implements dispatch.Transport.
func (k *Kafka) Send(ctx context.Context, n dispatch.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal kafka message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(n.CheckName),
		Value: value,
		Time:  n.FirstSeenAt,
		Headers: []kafka.Header{
			{Key: "notification-id", Value: []byte(n.ID.String())},
			{Key: "failure-kind", Value: []byte(n.FailureKind)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s failed: %w", k.topic, err)
	}

	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

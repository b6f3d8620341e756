package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisherConfig contains configuration options for KafkaPublisher
type KafkaPublisherConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int
	Compression  string
	RetryMax     int
}

// DefaultKafkaPublisherConfig favours low latency with leader acks.
func DefaultKafkaPublisherConfig() *KafkaPublisherConfig {
	return &KafkaPublisherConfig{
		BatchSize:    100,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: time.Second,
		RequiredAcks: 1,
		Compression:  "snappy",
		RetryMax:     3,
	}
}

// KafkaPublisher writes match events keyed by instrument so one instrument's
// fills stay ordered within a partition.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a synchronous publisher for topic.
func NewKafkaPublisher(brokers []string, topic string, config *KafkaPublisherConfig, logger *zap.Logger) *KafkaPublisher {
	if config == nil {
		config = DefaultKafkaPublisherConfig()
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchTimeout:           config.BatchTimeout,
		WriteTimeout:           config.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:            config.RetryMax,
		AllowAutoTopicCreation: true,
	}

	switch config.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	default:
		writer.Compression = kafka.Snappy
	}

	return newKafkaPublisher(topic, writer, logger)
}

func newKafkaPublisher(topic string, writer messageWriter, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, writer: writer, logger: logger}
}

// PublishMatches writes all events in one batch.
func (p *KafkaPublisher) PublishMatches(ctx context.Context, events []MatchEvent) error {
	if len(events) == 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("kafka publisher is closed")
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode match event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(ev.InstrumentID, 10)),
			Value: data,
			Headers: []kafka.Header{
				{Key: "source", Value: []byte("tickex-gateway")},
				{Key: "type", Value: []byte("match")},
			},
			Time: ev.ExecutedAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("Failed to publish match events",
			zap.String("topic", p.topic),
			zap.Int("events", len(events)),
			zap.Error(err))
		return fmt.Errorf("failed to publish to kafka topic %s: %w", p.topic, err)
	}
	p.logger.Debug("Published match events", zap.String("topic", p.topic), zap.Int("events", len(events)))
	return nil
}

// Close closes the Kafka writer and releases resources.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

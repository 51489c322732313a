// Package events publishes shipment lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "supportpipe.shipments"

// ErrNoBrokers is returned when the producer is built without brokers.
var ErrNoBrokers = errors.New("at least one kafka broker is required")

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Opts holds configuration options for the Kafka producer.
type Opts struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// Option defines a configuration option for the Kafka producer.
type Option func(*Opts)

// WithBrokers sets the bootstrap brokers.
func WithBrokers(brokers ...string) Option {
	return func(o *Opts) { o.Brokers = brokers }
}

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(o *Opts) { o.Topic = topic }
}

// WithBatchTimeout bounds how long a message waits for a batch to fill.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *Opts) { o.BatchTimeout = d }
}

// KafkaProducer publishes JSON-encoded events keyed by entity id.
type KafkaProducer struct {
	writer Writer
	topic  string
}

// NewKafkaProducer creates a producer writing to the configured brokers.
func NewKafkaProducer(opts ...Option) (*KafkaProducer, error) {
	cfg := Opts{Topic: DefaultTopic, BatchTimeout: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	slog.Debug("KafkaProducer created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return &KafkaProducer{writer: w, topic: cfg.Topic}, nil
}

// NewKafkaProducerWithWriter allows injecting a test writer.
func NewKafkaProducerWithWriter(w Writer) *KafkaProducer {
	return &KafkaProducer{writer: w}
}

// Publish marshals value to JSON and writes one message with the given key. Keys
// hash to partitions, so events for one shipment stay ordered.
func (p *KafkaProducer) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		slog.Error("KafkaProducer.Publish: marshal failed", "key", key, "error", err)
		return fmt.Errorf("failed to marshal event %s: %w", key, err)
	}
	msg := kafka.Message{Key: []byte(key), Value: b, Time: time.Now().UTC()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("KafkaProducer.Publish: write failed", "key", key, "topic", p.topic, "error", err)
		return fmt.Errorf("failed to publish event %s: %w", key, err)
	}
	slog.Debug("KafkaProducer.Publish: event written", "key", key, "topic", p.topic, "bytes", len(b))
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

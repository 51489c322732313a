package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// fakeWriter is a test writer that records messages written.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaProducerWithWriter(fw)
	err := p.Publish(context.Background(), "PCK-ABCDEFGHJK", map[string]string{"type": "shipment.created"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "PCK-ABCDEFGHJK" {
		t.Errorf("unexpected key %q", fw.msgs[0].Key)
	}
	var decoded map[string]string
	if err := json.Unmarshal(fw.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if decoded["type"] != "shipment.created" {
		t.Errorf("unexpected payload %v", decoded)
	}
}

func TestPublishWriteError(t *testing.T) {
	fw := &fakeWriter{err: errors.New("leader not available")}
	p := NewKafkaProducerWithWriter(fw)
	if err := p.Publish(context.Background(), "k", "v"); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublishMarshalError(t *testing.T) {
	p := NewKafkaProducerWithWriter(&fakeWriter{})
	if err := p.Publish(context.Background(), "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestClose(t *testing.T) {
	fw := &fakeWriter{}
	if err := NewKafkaProducerWithWriter(fw).Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !fw.closed {
		t.Error("writer was not closed")
	}
}

func TestNewKafkaProducer(t *testing.T) {
	if _, err := NewKafkaProducer(); !errors.Is(err, ErrNoBrokers) {
		t.Errorf("expected ErrNoBrokers, got %v", err)
	}
	p, err := NewKafkaProducer(WithBrokers("localhost:9092"), WithTopic("test.shipments"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.topic != "test.shipments" {
		t.Errorf("unexpected topic %q", p.topic)
	}
	if err := p.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
}

func TestNewKafkaProducerBatchTimeout(t *testing.T) {
	p, err := NewKafkaProducer(WithBrokers("localhost:9092"), WithBatchTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", p.writer)
	}
	if w.BatchTimeout != 5*time.Millisecond {
		t.Errorf("unexpected batch timeout %v", w.BatchTimeout)
	}
	if p.topic != DefaultTopic {
		t.Errorf("expected default topic, got %q", p.topic)
	}
}

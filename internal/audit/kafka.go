package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink streams events as JSON to a Kafka topic, keyed by user id.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink returns nil when brokers or topic are empty. Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			MaxAttempts:  3,
			// delivery happens off the request path; failures only reach the log
			Async:      true,
			Completion: logDelivery,
		},
		topic: topic,
	}
}

func logDelivery(msgs []kafka.Message, err error) {
	if err != nil {
		log.Printf("audit: kafka delivery of %d events failed: %v", len(msgs), err)
	}
}

// Record enqueues ev and returns without waiting for the broker.
func (s *KafkaSink) Record(ctx context.Context, ev Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(context.WithoutCancel(ctx), kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  ev.Time,
	})
}

// Close flushes pending events and closes the writer. Safe on a nil sink.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

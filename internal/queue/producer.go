package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer publishes sync jobs to the jobs topic. Jobs are keyed by
// portal name so every job for one portal lands on the same partition and
// runs in order.
type KafkaProducer struct {
	brokers []string
	topic   string

	mu     sync.Mutex
	writer *kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{brokers: brokers, topic: topic}
}

// Enqueue serializes the job and writes it to Kafka. It does not wait for
// the job to run, only for the broker to accept the message.
func (p *KafkaProducer) Enqueue(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(job.PortalName),
		Value: body,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(job.ID)},
			{Key: "portal_name", Value: []byte(job.PortalName)},
		},
	}

	if err := p.kafkaWriter().WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("enqueue job for %s: %w", job.PortalName, err)
	}
	enqueuedCounter.WithLabelValues(job.PortalName).Inc()
	return nil
}

func (p *KafkaProducer) kafkaWriter() *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(p.brokers...),
			Topic:        p.topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		}
	}
	return p.writer
}

// Close releases the underlying writer.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writer == nil {
		return nil
	}
	err := p.writer.Close()
	p.writer = nil
	return err
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler runs one decoded sync job to completion.
type Handler interface {
	Run(context.Context, Job) error
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls job messages from Kafka, decodes them, and hands them to a
// Handler. One message is processed at a time; a job runs to completion
// before the next fetch.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[worker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes jobs until the context is
// cancelled. Handler failures are terminal for the cycle: the message is
// committed either way, because resumption is driven by the next
// notification re-presenting the pair, not by redelivery.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		job, decodeErr := decodeJob(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			decodeErrorCounter.Inc()
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if runErr := p.handler.Run(ctx, job); runErr != nil {
			p.logger.Printf("job error (portal=%s, job=%s): %v", job.PortalName, job.ID, runErr)
			jobFailedCounter.WithLabelValues(job.PortalName).Inc()
		} else {
			jobCompletedCounter.WithLabelValues(job.PortalName).Inc()
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		}
	}
}

func decodeJob(msg kafka.Message) (Job, error) {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return Job{}, err
	}
	if job.PortalName == "" {
		return Job{}, fmt.Errorf("job without portal name")
	}
	if job.ID == "" {
		if id, ok := headerValue(msg, "job_id"); ok {
			job.ID = string(id)
		}
	}
	return job, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

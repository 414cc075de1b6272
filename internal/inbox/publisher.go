// Package inbox delivers canonical events to the downstream LDN inbox.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"time"

	"example.com/tracker/internal/domain"
)

// ContentType is the media type every event document is posted with.
const ContentType = `application/ld+json; profile="http://www.w3.org/ns/activitystreams"`

// Option configures optional Publisher behaviour.
type Option func(*Publisher)

// WithLogger overrides the publisher's logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// Publisher POSTs canonical events to an LDN inbox one at a time.
type Publisher struct {
	client *http.Client
	logger *log.Logger
}

// NewPublisher constructs a Publisher with a timeout-bounded default client.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: log.New(log.Writer(), "[inbox] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish consumes the event sequence exactly once, in order, delivering
// each event independently. Events published at or before the fromCursor
// timestamp (canonical format, optional) are suppressed rather than
// re-delivered. The first delivery failure stops the remaining sequence;
// drivers that paginate synchronously use this to cut a job short. Returns
// nil iff every delivered event was accepted.
func (p *Publisher) Publish(ctx context.Context, events iter.Seq[domain.CanonicalEvent], fromCursor, inboxURL string) error {
	var from time.Time
	if fromCursor != "" {
		if ts, err := time.Parse(domain.TimeLayout, fromCursor); err == nil {
			from = ts
		}
	}

	for event := range events {
		if !from.IsZero() {
			if published, ok := event.PublishedTime(); ok && !published.After(from) {
				suppressedCounter.Inc()
				continue
			}
		}

		if err := p.deliver(ctx, event, inboxURL); err != nil {
			failedCounter.Inc()
			return err
		}
		deliveredCounter.Inc()
	}
	return nil
}

func (p *Publisher) deliver(ctx context.Context, event domain.CanonicalEvent, inboxURL string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event %s: %w", event.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("inbox rejected event %s: status %d: %s", event.ID, resp.StatusCode, detail)
	}

	p.logger.Printf("delivered event %s (status=%d)", event.ID, resp.StatusCode)
	return nil
}

// Package tracker implements the per-portal sync drivers. Each driver
// fetches new remote activity for a set of credentials, normalizes it into
// canonical events, hands the events to the inbox publisher, and finalizes
// the tracking record for every credential it touched.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"net/http"
	"sort"
	"time"

	"example.com/tracker/internal/config"
	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/observability"
)

// ErrUnknownPortal is returned when no driver is registered for a portal
// name. This is a configuration error: the job records it and ends.
var ErrUnknownPortal = errors.New("unknown portal")

// errSkipRecord marks a raw record dropped on purpose (author mismatch,
// unsupported event type). Distinct from a parse failure.
var errSkipRecord = errors.New("record skipped")

// EventPublisher delivers a finite event sequence, consumed exactly once in
// order.
type EventPublisher interface {
	Publish(ctx context.Context, events iter.Seq[domain.CanonicalEvent], fromCursor, inboxURL string) error
}

// Driver is the polymorphic per-portal sync contract.
type Driver interface {
	Name() string
	// Sync processes each credential independently: a failure for one
	// credential finalizes its tracking record and moves to the next.
	Sync(ctx context.Context, users []domain.PortalCredential) error
}

// Env bundles everything a driver needs, threaded in explicitly at
// construction. No globals.
type Env struct {
	Portal       config.Portal
	Client       *http.Client
	Store        domain.TrackingStore
	Publisher    EventPublisher
	InboxURL     string
	EventBaseURL string
	Logger       *log.Logger
	Now          func() time.Time

	// DisallowBefore bounds the first harvest window of batch-harvest
	// portals, canonical format, optional.
	DisallowBefore string
}

// Factory constructs a driver from its environment.
type Factory func(Env) Driver

// The driver set is a closed, explicit registry. Dynamic lookup by string
// name happens here and nowhere else.
var registry = map[string]Factory{
	"stackoverflow":    newStackOverflow,
	"wordpress":        newWordpress,
	"medium":           newMedium,
	"blogger":          newBlogger,
	"github":           newGithub,
	"twitter":          newTwitter,
	"wikipedia":        newWikipedia,
	"hypothesis":       newHypothesis,
	"publons":          newPublons,
	"slideshare":       newSlideshare,
	"figshare":         newFigshare,
	"personal_website": newWebsite,
}

// New constructs the driver registered for name. Unknown names fail here,
// at construction, not at call time.
func New(name string, env Env) (Driver, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPortal, name)
	}
	if env.Now == nil {
		env.Now = time.Now
	}
	if env.Client == nil {
		env.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if env.Logger == nil {
		env.Logger = log.New(log.Writer(), "[tracker:"+name+"] ", log.LstdFlags)
	}
	return factory(env), nil
}

// Registered returns the sorted names of all registered portals.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// base carries the shared sync bookkeeping every driver embeds.
type base struct {
	env  Env
	name string
}

func (b *base) Name() string { return b.name }

func (b *base) now() time.Time { return b.env.Now().UTC() }

// cursor resolves the effective dedup cursor for a credential. The tracking
// store is authoritative: its value wins over whatever the notification
// carried, because some upstream credential stores never learn the new
// high-water mark.
func (b *base) cursor(ctx context.Context, cred domain.PortalCredential) (lastTracked, lastToken string) {
	lastTracked, lastToken = cred.LastTracked, cred.LastToken
	rec, err := b.env.Store.Get(ctx, cred.ActorID, b.name)
	if err != nil {
		b.env.Logger.Printf("tracking lookup failed for %s: %v", cred.ActorID, err)
		return lastTracked, lastToken
	}
	if rec != nil {
		if rec.LastTracked != "" {
			lastTracked = rec.LastTracked
		}
		if rec.LastToken != "" {
			lastToken = rec.LastToken
		}
	}
	return lastTracked, lastToken
}

// markSkipped finalizes a credential that cannot be synced (missing identity
// fields) so it is not retried until a fresh notification provides it again.
func (b *base) markSkipped(ctx context.Context, actorID string) {
	b.update(ctx, domain.TrackingUpdate{
		ActorID:    actorID,
		PortalName: b.name,
		Completed:  true,
	})
}

// finalize records the terminal outcome of processing one credential.
func (b *base) finalize(ctx context.Context, actorID string, status *int, lastTracked, lastToken string) {
	b.update(ctx, domain.TrackingUpdate{
		ActorID:     actorID,
		PortalName:  b.name,
		Status:      status,
		Completed:   true,
		LastTracked: lastTracked,
		LastToken:   lastToken,
	})
	observability.RecordSyncCompleted(b.name, b.now())
}

// begin marks a credential in flight. Advisory only; two overlapping jobs
// for the same pair race and the last writer wins.
func (b *base) begin(ctx context.Context, actorID string) {
	b.update(ctx, domain.TrackingUpdate{
		ActorID:    actorID,
		PortalName: b.name,
	})
}

func (b *base) update(ctx context.Context, update domain.TrackingUpdate) {
	if err := b.env.Store.Upsert(ctx, update); err != nil {
		b.env.Logger.Printf("tracking update failed for %s/%s: %v", update.ActorID, update.PortalName, err)
	}
}

// get issues a GET with the driver's client and bounded error reporting.
func (b *base) get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := b.env.Client.Do(req)
	if err != nil {
		return nil, err
	}
	fetchCounter.WithLabelValues(b.name).Inc()
	return resp, nil
}

// publish hands a lazy event sequence to the publisher.
func (b *base) publish(ctx context.Context, events iter.Seq[domain.CanonicalEvent], fromCursor string) error {
	return b.env.Publisher.Publish(ctx, events, fromCursor, b.env.InboxURL)
}

// eventSeq normalizes raw records lazily, yielding events in input order.
// Records the normalizer skips are dropped silently; records it cannot
// parse are dropped with a counter, failing that single record only.
func eventSeq[T any](b *base, records []T, normalize func(T) (domain.CanonicalEvent, error)) iter.Seq[domain.CanonicalEvent] {
	return func(yield func(domain.CanonicalEvent) bool) {
		for _, record := range records {
			event, err := normalize(record)
			if err != nil {
				if !errors.Is(err, errSkipRecord) {
					b.env.Logger.Printf("normalize failed: %v", err)
					normalizeErrorCounter.WithLabelValues(b.name).Inc()
				}
				continue
			}
			normalizedCounter.WithLabelValues(b.name).Inc()
			if !yield(event) {
				return
			}
		}
	}
}

// trackPublished passes events through, recording the newest published time
// seen so the caller can advance a time cursor after a successful publish.
func trackPublished(events iter.Seq[domain.CanonicalEvent], newest *time.Time) iter.Seq[domain.CanonicalEvent] {
	return func(yield func(domain.CanonicalEvent) bool) {
		for event := range events {
			if ts, ok := event.PublishedTime(); ok && ts.After(*newest) {
				*newest = ts
			}
			if !yield(event) {
				return
			}
		}
	}
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

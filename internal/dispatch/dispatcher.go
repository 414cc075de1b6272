package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/queue"
)

// JobQueue accepts sync jobs for background execution.
type JobQueue interface {
	Enqueue(context.Context, queue.Job) error
}

// Option configures optional Dispatcher behaviour.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher's logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher partitions a notification's actor/portal pairs into jobs.
// Batchable portals (APIs that favor fetching many users in one call) get a
// single job carrying every matching credential; all other portals get one
// job per credential.
type Dispatcher struct {
	jobs      JobQueue
	batchable map[string]struct{}
	logger    *log.Logger
}

// New constructs a Dispatcher. batchable lists the portal names to coalesce.
func New(jobs JobQueue, batchable []string, opts ...Option) *Dispatcher {
	set := make(map[string]struct{}, len(batchable))
	for _, name := range batchable {
		set[name] = struct{}{}
	}
	d := &Dispatcher{
		jobs:      jobs,
		batchable: set,
		logger:    log.New(log.Writer(), "[dispatch] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues jobs covering every actor/portal pair in the
// notification and returns how many jobs it enqueued. It fails without
// enqueueing anything when the delivery target or event base URL is missing.
// It does not wait for any job to run.
func (d *Dispatcher) Dispatch(ctx context.Context, note *Notification) (int, error) {
	inboxURL := note.Event.To
	baseURL := note.Event.EventBaseURL
	if inboxURL == "" || baseURL == "" {
		return 0, ErrMissingTarget
	}

	// Per-actor portals are enqueued during the scan; batchable portals
	// accumulate across all actors and go out once the pass completes.
	batches := make(map[string][]domain.PortalCredential)
	var batchOrder []string
	enqueued := 0

	for _, cred := range note.credentials() {
		if cred.Name == "" {
			d.logger.Printf("credential for actor %s has no portal name, skipping", cred.ActorID)
			continue
		}

		if _, ok := d.batchable[cred.Name]; ok {
			if _, seen := batches[cred.Name]; !seen {
				batchOrder = append(batchOrder, cred.Name)
			}
			batches[cred.Name] = append(batches[cred.Name], cred)
			continue
		}

		if err := d.enqueue(ctx, cred.Name, []domain.PortalCredential{cred}, inboxURL, baseURL); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	for _, name := range batchOrder {
		if err := d.enqueue(ctx, name, batches[name], inboxURL, baseURL); err != nil {
			return enqueued, err
		}
		enqueued++
	}

	return enqueued, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, portal string, users []domain.PortalCredential, inboxURL, baseURL string) error {
	job := queue.Job{
		ID:           uuid.NewString(),
		PortalName:   portal,
		Users:        users,
		LDNInboxURL:  inboxURL,
		EventBaseURL: baseURL,
	}
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job: %w", portal, err)
	}
	d.logger.Printf("enqueued job %s (portal=%s, users=%d)", job.ID, portal, len(users))
	return nil
}

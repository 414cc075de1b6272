package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"example.com/tracker/internal/config"
	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/queue"
)

// Runner executes sync jobs from the queue: it resolves the portal catalog
// entry, constructs the driver, and runs it over the job's credentials.
type Runner struct {
	portals   config.Portals
	client    *http.Client
	store     domain.TrackingStore
	publisher EventPublisher
	logger    *log.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger overrides the runner's logger.
func WithRunnerLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRunnerClock overrides the runner's clock, for tests.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner wires a Runner from the portal catalog and the shared
// dependencies every driver receives.
func NewRunner(portals config.Portals, client *http.Client, store domain.TrackingStore, publisher EventPublisher, opts ...RunnerOption) *Runner {
	runner := &Runner{
		portals:   portals,
		client:    client,
		store:     store,
		publisher: publisher,
		logger:    log.New(log.Writer(), "[runner] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(runner)
	}
	return runner
}

// Run implements the queue handler contract. A job for an uncataloged or
// unregistered portal is a configuration error: every credential's tracking
// record is closed out so the pairs are not considered in flight, and the
// job is not retried.
func (r *Runner) Run(ctx context.Context, job queue.Job) error {
	portal, ok := r.portals.Portal(job.PortalName)
	if !ok {
		r.closeOut(ctx, job)
		return fmt.Errorf("portal %q not in catalog", job.PortalName)
	}

	env := Env{
		Portal:         portal,
		Client:         r.client,
		Store:          r.store,
		Publisher:      r.publisher,
		InboxURL:       job.LDNInboxURL,
		EventBaseURL:   job.EventBaseURL,
		Now:            r.now,
		DisallowBefore: r.portals.DisallowEventsBefore,
		Logger: log.New(r.logger.Writer(),
			fmt.Sprintf("[tracker:%s] ", job.PortalName), log.LstdFlags),
	}
	driver, err := New(job.PortalName, env)
	if err != nil {
		r.closeOut(ctx, job)
		return err
	}

	users := r.filterInFlight(ctx, job)
	if len(users) == 0 {
		r.logger.Printf("job %s: all credentials already in flight, nothing to do", job.ID)
		return nil
	}

	r.logger.Printf("job %s: syncing %d credential(s) against %s",
		job.ID, len(users), job.PortalName)
	return driver.Sync(ctx, users)
}

// filterInFlight drops credentials whose pair already has an open tracking
// record. The check is advisory: a store error does not block the sync.
func (r *Runner) filterInFlight(ctx context.Context, job queue.Job) []domain.PortalCredential {
	users := make([]domain.PortalCredential, 0, len(job.Users))
	for _, user := range job.Users {
		inFlight, err := r.store.InFlight(ctx, user.ActorID, job.PortalName)
		if err != nil {
			r.logger.Printf("in-flight check failed for %s/%s: %v",
				user.ActorID, job.PortalName, err)
		}
		if err == nil && inFlight {
			r.logger.Printf("job %s: %s/%s already in flight, skipping",
				job.ID, user.ActorID, job.PortalName)
			continue
		}
		users = append(users, user)
	}
	return users
}

func (r *Runner) closeOut(ctx context.Context, job queue.Job) {
	for _, user := range job.Users {
		err := r.store.Upsert(ctx, domain.TrackingUpdate{
			ActorID:    user.ActorID,
			PortalName: job.PortalName,
			Completed:  true,
		})
		if err != nil {
			r.logger.Printf("tracking close-out failed for %s/%s: %v",
				user.ActorID, job.PortalName, err)
		}
	}
}

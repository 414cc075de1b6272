package domain

import (
	"context"
	"time"
)

// TrackingRecord is the persisted sync outcome for one (actor, portal) pair.
// At most one record exists per pair. Completed=false means a job is in
// flight or died before its terminal update; it is an advisory guard, not a
// lock.
type TrackingRecord struct {
	ActorID    string
	PortalName string
	CreatedAt  time.Time
	LastUpdate time.Time
	// LastStatus is the last HTTP status observed, nil when no call was made.
	LastStatus *int
	Attempts   int
	Completed  bool

	// Authoritative cursor fields. The stored value wins over whatever the
	// notification carried; drivers write the new high-water mark back here.
	LastToken   string
	LastTracked string
}

// TrackingUpdate describes one upsert against a tracking record. Zero-valued
// optional fields leave the stored column untouched.
type TrackingUpdate struct {
	ActorID    string
	PortalName string
	Status     *int
	Completed  bool
	// SuppressAttempt leaves the attempt counter alone; every other update
	// increments it.
	SuppressAttempt bool
	// LastUpdate overrides the update stamp; zero means now.
	LastUpdate time.Time
	// Cursor values to persist; empty strings are ignored.
	LastToken   string
	LastTracked string
}

// TrackingStore persists tracking records keyed by (actor_id, portal_name).
type TrackingStore interface {
	Get(ctx context.Context, actorID, portalName string) (*TrackingRecord, error)
	Upsert(ctx context.Context, update TrackingUpdate) error
	// InFlight reports whether a record exists for the pair with
	// completed=false. Best effort: concurrent dispatch of the same pair can
	// still race, last writer wins.
	InFlight(ctx context.Context, actorID, portalName string) (bool, error)
}

// StatusCode boxes an HTTP status for TrackingUpdate.Status.
func StatusCode(code int) *int {
	return &code
}

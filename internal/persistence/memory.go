// Package persistence contains store implementations shared by tests and
// single-process deployments.
package persistence

import (
	"context"
	"sync"
	"time"

	"example.com/tracker/internal/domain"
)

// MemoryTrackingStore is an in-memory TrackingStore. It backs unit tests and
// small single-process deployments that do not want Postgres.
type MemoryTrackingStore struct {
	mu      sync.Mutex
	records map[string]*domain.TrackingRecord
}

// NewMemoryTrackingStore constructs an empty store.
func NewMemoryTrackingStore() *MemoryTrackingStore {
	return &MemoryTrackingStore{records: make(map[string]*domain.TrackingRecord)}
}

func key(actorID, portalName string) string {
	return actorID + "\x00" + portalName
}

// Get returns a copy of the stored record, nil when absent.
func (s *MemoryTrackingStore) Get(_ context.Context, actorID, portalName string) (*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(actorID, portalName)]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// Upsert applies the update with the same column semantics as the Postgres
// store.
func (s *MemoryTrackingStore) Upsert(_ context.Context, update domain.TrackingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := update.LastUpdate
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rec, ok := s.records[key(update.ActorID, update.PortalName)]
	if !ok {
		rec = &domain.TrackingRecord{
			ActorID:    update.ActorID,
			PortalName: update.PortalName,
			CreatedAt:  now,
		}
		s.records[key(update.ActorID, update.PortalName)] = rec
	}

	rec.LastUpdate = now
	rec.LastStatus = update.Status
	rec.Completed = update.Completed
	if !update.SuppressAttempt {
		rec.Attempts++
	}
	if update.LastToken != "" {
		rec.LastToken = update.LastToken
	}
	if update.LastTracked != "" {
		rec.LastTracked = update.LastTracked
	}
	return nil
}

// InFlight reports whether a not-yet-completed record exists for the pair.
func (s *MemoryTrackingStore) InFlight(_ context.Context, actorID, portalName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key(actorID, portalName)]
	if !ok {
		return false, nil
	}
	return !rec.Completed, nil
}

// Package postgres provides the pgx-backed tracking store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tracker/internal/domain"
)

// TrackingStore persists tracking records in the tracker_tasks table.
type TrackingStore struct {
	pool *pgxpool.Pool
}

// NewTrackingStore constructs a TrackingStore.
func NewTrackingStore(pool *pgxpool.Pool) *TrackingStore {
	return &TrackingStore{pool: pool}
}

// Get fetches the record for an (actor, portal) pair, nil when absent.
func (s *TrackingStore) Get(ctx context.Context, actorID, portalName string) (*domain.TrackingRecord, error) {
	const query = `SELECT actor_id, portal_name, created_at, last_updated, last_status_code, attempt_count, completed, last_token, last_tracked
        FROM tracker_tasks WHERE actor_id=$1 AND portal_name=$2`

	row := s.pool.QueryRow(ctx, query, actorID, portalName)
	var rec domain.TrackingRecord
	if err := row.Scan(&rec.ActorID, &rec.PortalName, &rec.CreatedAt, &rec.LastUpdate, &rec.LastStatus, &rec.Attempts, &rec.Completed, &rec.LastToken, &rec.LastTracked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert creates or mutates the record for the update's pair in one
// statement; the attempt counter increments unless suppressed, and empty
// cursor values never overwrite stored ones.
func (s *TrackingStore) Upsert(ctx context.Context, update domain.TrackingUpdate) error {
	now := update.LastUpdate
	if now.IsZero() {
		now = time.Now().UTC()
	}

	increment := 1
	if update.SuppressAttempt {
		increment = 0
	}

	const stmt = `INSERT INTO tracker_tasks (actor_id, portal_name, created_at, last_updated, last_status_code, attempt_count, completed, last_token, last_tracked)
        VALUES ($1,$2,$3,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (actor_id, portal_name) DO UPDATE SET
            last_updated     = EXCLUDED.last_updated,
            last_status_code = EXCLUDED.last_status_code,
            completed        = EXCLUDED.completed,
            attempt_count    = tracker_tasks.attempt_count + $5,
            last_token       = CASE WHEN EXCLUDED.last_token <> '' THEN EXCLUDED.last_token ELSE tracker_tasks.last_token END,
            last_tracked     = CASE WHEN EXCLUDED.last_tracked <> '' THEN EXCLUDED.last_tracked ELSE tracker_tasks.last_tracked END`

	_, err := s.pool.Exec(ctx, stmt,
		update.ActorID,
		update.PortalName,
		now,
		update.Status,
		increment,
		update.Completed,
		update.LastToken,
		update.LastTracked,
	)
	return err
}

// InFlight reports whether a not-yet-completed record exists for the pair.
func (s *TrackingStore) InFlight(ctx context.Context, actorID, portalName string) (bool, error) {
	const query = `SELECT NOT completed FROM tracker_tasks WHERE actor_id=$1 AND portal_name=$2`

	var inFlight bool
	if err := s.pool.QueryRow(ctx, query, actorID, portalName).Scan(&inFlight); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return inFlight, nil
}

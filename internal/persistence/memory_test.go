package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/domain"
)

func TestMemoryStoreUpsertLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrackingStore()

	rec, err := store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.Nil(t, rec)

	// First write marks the pair in flight.
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:    "actor-1",
		PortalName: "github",
	}))

	inFlight, err := store.InFlight(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.True(t, inFlight)

	rec, err = store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, 1, rec.Attempts)
	require.False(t, rec.Completed)
	require.Nil(t, rec.LastStatus)

	// Terminal write completes the pair and records the outcome.
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:     "actor-1",
		PortalName:  "github",
		Status:      domain.StatusCode(200),
		Completed:   true,
		LastTracked: "2025-06-15T10:00:00Z",
		LastToken:   `W/"etag"`,
	}))

	rec, err = store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Attempts)
	require.True(t, rec.Completed)
	require.Equal(t, 200, *rec.LastStatus)
	require.Equal(t, "2025-06-15T10:00:00Z", rec.LastTracked)

	inFlight, err = store.InFlight(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.False(t, inFlight)
}

func TestMemoryStoreEmptyCursorsDoNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrackingStore()

	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:     "actor-1",
		PortalName:  "github",
		LastTracked: "2025-06-15T10:00:00Z",
		LastToken:   `W/"etag"`,
	}))
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:    "actor-1",
		PortalName: "github",
		Completed:  true,
	}))

	rec, err := store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.Equal(t, "2025-06-15T10:00:00Z", rec.LastTracked)
	require.Equal(t, `W/"etag"`, rec.LastToken)
}

func TestMemoryStoreSuppressAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrackingStore()

	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:    "actor-1",
		PortalName: "github",
	}))
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:         "actor-1",
		PortalName:      "github",
		SuppressAttempt: true,
	}))

	rec, err := store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.Equal(t, 1, rec.Attempts)
}

func TestMemoryStoreHonorsExplicitUpdateStamp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrackingStore()

	stamp := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID:    "actor-1",
		PortalName: "github",
		LastUpdate: stamp,
	}))

	rec, err := store.Get(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.Equal(t, stamp, rec.LastUpdate)
	require.Equal(t, stamp, rec.CreatedAt)
}

func TestMemoryStoreIsolatesPairs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrackingStore()

	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID: "actor-1", PortalName: "github", Completed: true,
	}))
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID: "actor-1", PortalName: "twitter",
	}))

	inFlight, err := store.InFlight(ctx, "actor-1", "github")
	require.NoError(t, err)
	require.False(t, inFlight)

	inFlight, err = store.InFlight(ctx, "actor-1", "twitter")
	require.NoError(t, err)
	require.True(t, inFlight)
}

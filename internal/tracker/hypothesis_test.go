package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/persistence"
)

const hypothesisBody = `{
  "rows": [
    {
      "created": "2025-06-14T09:30:00.123456+00:00",
      "links": {
        "html": "https://hypothes.is/a/abc123",
        "incontext": "https://hyp.is/abc123/example.org/page"
      }
    }
  ]
}`

func TestHypothesisSyncEmitsBothAnnotationViews(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(hypothesisBody))
	}))
	defer server.Close()

	store := persistence.NewMemoryTrackingStore()
	publisher := &capturePublisher{}
	env := testEnv(t, store, publisher)
	env.Portal = portalWith("https://hypothes.is/", map[string]string{
		"user_search_url": server.URL + "/api/search?user=%s",
	})

	driver, err := New("hypothesis", env)
	require.NoError(t, err)

	err = driver.Sync(ctx, []domain.PortalCredential{
		{ActorID: "actor-1", Name: "hypothesis", Username: "jane"},
	})
	require.NoError(t, err)
	require.Len(t, publisher.events, 1)

	event := publisher.events[0]
	require.Equal(t, "2025-06-14T09:30:00Z", event.Event.Published)
	require.Equal(t, "https://hypothes.is/users/jane", event.Event.Actor.URL)
	require.Len(t, event.Event.Object.Items, 2)
	require.Equal(t, "https://hypothes.is/a/abc123", event.Event.Object.Items[0].Href)
	require.Equal(t, "https://hyp.is/abc123/example.org/page", event.Event.Object.Items[1].Href)

	rec, err := store.Get(ctx, "actor-1", "hypothesis")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Completed)
	require.Equal(t, "2025-06-14T09:30:00Z", rec.LastTracked)
}


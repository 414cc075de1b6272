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

const wikiContribsBody = `{
  "query": {
    "usercontribs": [
      {"title": "Web archiving", "timestamp": "2025-06-14T16:20:00Z", "revid": 900201, "new": false},
      {"title": "Memento Project", "timestamp": "2025-06-13T09:00:00Z", "revid": 900100, "new": true}
    ]
  }
}`

func TestWikipediaSyncEmitsMementoPairs(t *testing.T) {
	ctx := context.Background()
	var requestedURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestedURL = r.URL.String()
		_, _ = w.Write([]byte(wikiContribsBody))
	}))
	defer server.Close()

	store := persistence.NewMemoryTrackingStore()
	publisher := &capturePublisher{}
	env := testEnv(t, store, publisher)
	env.Portal = portalWith("https://wikipedia.org/", map[string]string{
		"contributions_url": server.URL + "/w/api.php?action=query&list=usercontribs&ucuser=%s&format=json",
	})

	driver, err := New("wikipedia", env)
	require.NoError(t, err)

	err = driver.Sync(ctx, []domain.PortalCredential{
		{ActorID: "actor-1", Name: "wikipedia", Username: "JaneEditor", LastTracked: "2025-06-10T00:00:00Z"},
	})
	require.NoError(t, err)
	require.Contains(t, requestedURL, "ucend=2025-06-10T00:00:00Z")
	require.Len(t, publisher.events, 2)

	edit := publisher.events[0]
	require.Equal(t, "Update", edit.Event.Type[0])
	require.Equal(t, "https://wikipedia.org/wiki/User:JaneEditor", edit.Event.Actor.URL)
	require.Len(t, edit.Event.Object.Items, 2)
	require.Equal(t, "https://wikipedia.org/wiki/Web_archiving?oldid=900201", edit.Event.Object.Items[0].Memento)
	require.Equal(t, "https://wikipedia.org/wiki/Web_archiving", edit.Event.Object.Items[0].OriginalResource)
	require.Equal(t, "https://wikipedia.org/wiki/Web_archiving?diff=prev&oldid=900201", edit.Event.Object.Items[1].Href)
	require.Equal(t, "2025-06-14T16:20:00Z", edit.Event.Object.Items[0].MementoDatetime)

	created := publisher.events[1]
	require.Equal(t, "Add", created.Event.Type[0])

	rec, err := store.Get(ctx, "actor-1", "wikipedia")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Completed)
	require.Equal(t, "2025-06-14T16:20:00Z", rec.LastTracked)
}

func TestWikipediaSyncNoContributions(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"query":{"usercontribs":[]}}`))
	}))
	defer server.Close()

	store := persistence.NewMemoryTrackingStore()
	publisher := &capturePublisher{}
	env := testEnv(t, store, publisher)
	env.Portal = portalWith("https://wikipedia.org/", map[string]string{
		"contributions_url": server.URL + "/w/api.php?ucuser=%s",
	})

	driver, err := New("wikipedia", env)
	require.NoError(t, err)

	err = driver.Sync(ctx, []domain.PortalCredential{
		{ActorID: "actor-2", Name: "wikipedia", Username: "JaneEditor"},
	})
	require.NoError(t, err)
	require.Zero(t, publisher.calls)

	rec, err := store.Get(ctx, "actor-2", "wikipedia")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Completed)
	require.Empty(t, rec.LastTracked)
}

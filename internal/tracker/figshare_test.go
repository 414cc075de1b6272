package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/persistence"
)

const oaiListBody = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <ListRecords>
    <record>
      <metadata>
        <oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
                   xmlns:dc="http://purl.org/dc/elements/1.1/">
          <dc:date>2025-06-15T08:00:00Z</dc:date>
          <dc:creator>Jane Doe (77)</dc:creator>
          <dc:creator>Sam Smith (88)</dc:creator>
          <dc:relation>https://doi.org/10.1234/ds1</dc:relation>
          <dc:relation>https://figshare.com/articles/ds1</dc:relation>
        </oai_dc:dc>
      </metadata>
    </record>
    <record>
      <metadata>
        <oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
                   xmlns:dc="http://purl.org/dc/elements/1.1/">
          <dc:date>2025-06-10T08:00:00Z</dc:date>
          <dc:creator>Jane Doe (77)</dc:creator>
          <dc:relation>https://doi.org/10.1234/old</dc:relation>
        </oai_dc:dc>
      </metadata>
    </record>
  </ListRecords>
</OAI-PMH>`

const oaiNoRecordsBody = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <error code="noRecordsMatch">No matches for the query</error>
</OAI-PMH>`

func TestExtractAuthorID(t *testing.T) {
	require.Equal(t, "123456", extractAuthorID("Some O. Author (123456)"))
	require.Empty(t, extractAuthorID("No ID Here"))
	require.Empty(t, extractAuthorID("Broken (openparen"))
}

func TestFigshareHarvestWindow(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryTrackingStore()
	env := testEnv(t, store, &capturePublisher{})
	d := &figshare{base{env: env, name: "figshare"}}

	users := []domain.PortalCredential{
		{ActorID: "actor-1", UserID: "77"},
		{ActorID: "actor-2", UserID: "88"},
	}

	// Nothing stored and no floor configured: the past day.
	window := d.harvestWindow(ctx, users)
	require.Equal(t, "2025-06-14T12:00:00Z", window.Format(domain.TimeLayout))

	// A configured floor wins over the default.
	d.env.DisallowBefore = "2025-05-01T00:00:00Z"
	window = d.harvestWindow(ctx, users)
	require.Equal(t, "2025-05-01T00:00:00Z", window.Format(domain.TimeLayout))

	// The most recent stored cursor wins over everything.
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID: "actor-1", PortalName: "figshare", LastTracked: "2025-06-01T00:00:00Z",
	}))
	require.NoError(t, store.Upsert(ctx, domain.TrackingUpdate{
		ActorID: "actor-2", PortalName: "figshare", LastTracked: "2025-06-05T00:00:00Z",
	}))
	window = d.harvestWindow(ctx, users)
	require.Equal(t, "2025-06-05T00:00:00Z", window.Format(domain.TimeLayout))
}

func TestFigshareSyncMatchesBatchAuthors(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ListRecords", r.URL.Query().Get("verb"))
		_, _ = w.Write([]byte(oaiListBody))
	}))
	defer server.Close()

	store := persistence.NewMemoryTrackingStore()
	publisher := &capturePublisher{}
	env := testEnv(t, store, publisher)
	env.Portal = portalWith("https://figshare.com/", map[string]string{
		"oai_pmh_url": server.URL + "/oai",
	})

	driver, err := New("figshare", env)
	require.NoError(t, err)

	users := []domain.PortalCredential{
		{ActorID: "actor-1", Name: "figshare", Username: "jane", UserID: "77"},
		{ActorID: "actor-3", Name: "figshare", Username: "nora", UserID: "99"},
	}
	require.NoError(t, driver.Sync(ctx, users))

	// Only the in-window record matches a batch member; the older record
	// ends the harvest.
	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	require.Equal(t, "actor-1", event.Event.Actor.ID)
	require.Equal(t, "https://figshare.com/authors/jane/77", event.Event.Actor.URL)
	require.Equal(t, "2025-06-15T08:00:00Z", event.Event.Published)
	require.Equal(t, []string{"Create", "tracker:ArtifactCreation", "tracker:Tracker"}, event.Event.Type)
	require.Equal(t, 2, event.Event.Object.TotalItems)
	require.Equal(t, "2025-06-14T12:00:00Z", publisher.cursors[0])

	for _, user := range users {
		rec, err := store.Get(ctx, user.ActorID, "figshare")
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.True(t, rec.Completed)
		require.Equal(t, "2025-06-15T12:00:00Z", rec.LastTracked)
	}
}

func TestFigshareSyncNoRecordsMatch(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(oaiNoRecordsBody))
	}))
	defer server.Close()

	store := persistence.NewMemoryTrackingStore()
	publisher := &capturePublisher{}
	env := testEnv(t, store, publisher)
	env.Portal = portalWith("https://figshare.com/", map[string]string{
		"oai_pmh_url": server.URL + "/oai",
	})

	driver, err := New("figshare", env)
	require.NoError(t, err)

	users := []domain.PortalCredential{
		{ActorID: "actor-1", Name: "figshare", Username: "jane", UserID: "77"},
	}
	require.NoError(t, driver.Sync(ctx, users))
	require.Zero(t, publisher.calls)

	rec, err := store.Get(ctx, "actor-1", "figshare")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.Completed)
	// No harvest means the cursor does not move.
	require.Empty(t, rec.LastTracked)
}

func TestFigshareRecordDate(t *testing.T) {
	var record oaiRecord
	record.Metadata.DC.Dates = []string{"2025-06-15T08:00:00Z"}
	date, err := record.date()
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC), date)

	var empty oaiRecord
	_, err = empty.date()
	require.Error(t, err)
}

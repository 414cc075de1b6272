package dispatch

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/queue"
)

const sampleNotification = `{
  "event": {
    "to": "https://inbox.example.org/",
    "tracker:eventBaseUrl": "https://events.example.org/",
    "object": {
      "describes": [
        {
          "id": "https://actors.example.org/alice",
          "tracker:portals": {
            "items": [
              {"tracker:portal": {"tracker:name": "github", "tracker:username": "alice"}},
              {"tracker:portal": {"tracker:name": "wordpress", "tracker:username": "alice", "tracker:portalUrl": "https://alice.blog/"}}
            ]
          }
        },
        {
          "id": "https://actors.example.org/bob",
          "tracker:portals": {
            "items": [
              {"tracker:portal": {"tracker:name": "wordpress", "tracker:username": "bob", "tracker:portalUrl": "https://bob.blog/"}}
            ]
          }
        }
      ]
    }
  }
}`

func TestParseNotificationRequiresActors(t *testing.T) {
	_, err := ParseNotification([]byte(`{"event":{"object":{"describes":[]}}}`))
	require.ErrorIs(t, err, ErrNoActors)

	_, err = ParseNotification([]byte(`not json`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoActors)
}

func TestNotificationCredentialsStripNamespace(t *testing.T) {
	note, err := ParseNotification([]byte(sampleNotification))
	require.NoError(t, err)

	creds := note.credentials()
	require.Len(t, creds, 3)
	require.Equal(t, "https://actors.example.org/alice", creds[0].ActorID)
	require.Equal(t, "github", creds[0].Name)
	require.Equal(t, "alice", creds[0].Username)
	require.Equal(t, "https://alice.blog/", creds[1].PortalURL)
}

func TestDispatchCoalescesBatchablePortals(t *testing.T) {
	note, err := ParseNotification([]byte(sampleNotification))
	require.NoError(t, err)

	sink := &stubQueue{}
	d := New(sink, []string{"wordpress", "figshare"}, WithLogger(log.New(testWriter{t}, "", 0)))

	enqueued, err := d.Dispatch(context.Background(), note)
	require.NoError(t, err)
	require.Equal(t, 2, enqueued)
	require.Len(t, sink.jobs, 2)

	github := sink.jobs[0]
	require.Equal(t, "github", github.PortalName)
	require.Len(t, github.Users, 1)
	require.Equal(t, "https://inbox.example.org/", github.LDNInboxURL)
	require.Equal(t, "https://events.example.org/", github.EventBaseURL)
	require.NotEmpty(t, github.ID)

	// Both actors' wordpress credentials ride in a single job.
	wordpress := sink.jobs[1]
	require.Equal(t, "wordpress", wordpress.PortalName)
	require.Len(t, wordpress.Users, 2)
	require.Equal(t, "alice", wordpress.Users[0].Username)
	require.Equal(t, "bob", wordpress.Users[1].Username)
}

func TestDispatchFailsWithoutTarget(t *testing.T) {
	note, err := ParseNotification([]byte(`{
	  "event": {
	    "object": {"describes": [{"id": "https://actors.example.org/alice"}]}
	  }
	}`))
	require.NoError(t, err)

	sink := &stubQueue{}
	d := New(sink, nil, WithLogger(log.New(testWriter{t}, "", 0)))

	enqueued, err := d.Dispatch(context.Background(), note)
	require.ErrorIs(t, err, ErrMissingTarget)
	require.Zero(t, enqueued)
	require.Empty(t, sink.jobs)
}

func TestDispatchStopsOnQueueFailure(t *testing.T) {
	note, err := ParseNotification([]byte(sampleNotification))
	require.NoError(t, err)

	sink := &stubQueue{err: errors.New("broker down")}
	d := New(sink, nil, WithLogger(log.New(testWriter{t}, "", 0)))

	enqueued, err := d.Dispatch(context.Background(), note)
	require.Error(t, err)
	require.Zero(t, enqueued)
}

func TestDispatchSkipsNamelessCredential(t *testing.T) {
	note, err := ParseNotification([]byte(`{
	  "event": {
	    "to": "https://inbox.example.org/",
	    "tracker:eventBaseUrl": "https://events.example.org/",
	    "object": {
	      "describes": [
	        {
	          "id": "https://actors.example.org/alice",
	          "tracker:portals": {
	            "items": [{"tracker:portal": {"tracker:username": "alice"}}]
	          }
	        }
	      ]
	    }
	  }
	}`))
	require.NoError(t, err)

	sink := &stubQueue{}
	d := New(sink, nil, WithLogger(log.New(testWriter{t}, "", 0)))

	enqueued, err := d.Dispatch(context.Background(), note)
	require.NoError(t, err)
	require.Zero(t, enqueued)
}

type stubQueue struct {
	jobs []queue.Job
	err  error
}

func (q *stubQueue) Enqueue(_ context.Context, job queue.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

package inbox

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/domain"
)

func eventWithPublished(published string) domain.CanonicalEvent {
	event := domain.NewEvent("https://events.example.org/", "github", "", time.Now())
	event.Event.Published = published
	return event
}

func seqOf(events ...domain.CanonicalEvent) func(func(domain.CanonicalEvent) bool) {
	return func(yield func(domain.CanonicalEvent) bool) {
		for _, event := range events {
			if !yield(event) {
				return
			}
		}
	}
}

func TestPublishDeliversInOrder(t *testing.T) {
	var received []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, ContentType, r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var event domain.CanonicalEvent
		require.NoError(t, json.Unmarshal(body, &event))
		received = append(received, event.Event.Published)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	p := NewPublisher(WithHTTPClient(server.Client()), WithLogger(log.New(testWriter{t}, "", 0)))

	err := p.Publish(context.Background(), seqOf(
		eventWithPublished("2025-06-10T00:00:00Z"),
		eventWithPublished("2025-06-11T00:00:00Z"),
	), "", server.URL)
	require.NoError(t, err)
	require.Equal(t, []string{"2025-06-10T00:00:00Z", "2025-06-11T00:00:00Z"}, received)
}

func TestPublishSuppressesEventsAtOrBeforeCursor(t *testing.T) {
	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered++
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	p := NewPublisher(WithHTTPClient(server.Client()), WithLogger(log.New(testWriter{t}, "", 0)))

	err := p.Publish(context.Background(), seqOf(
		eventWithPublished("2025-06-09T00:00:00Z"),
		eventWithPublished("2025-06-10T00:00:00Z"),
		eventWithPublished("2025-06-11T00:00:00Z"),
	), "2025-06-10T00:00:00Z", server.URL)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
}

func TestPublishDeliversEventsWithoutPublishedStamp(t *testing.T) {
	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered++
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	p := NewPublisher(WithHTTPClient(server.Client()), WithLogger(log.New(testWriter{t}, "", 0)))

	err := p.Publish(context.Background(), seqOf(eventWithPublished("")),
		"2025-06-10T00:00:00Z", server.URL)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)
}

func TestPublishStopsOnFirstRejection(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests > 1 {
			http.Error(w, "inbox full", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	p := NewPublisher(WithHTTPClient(server.Client()), WithLogger(log.New(testWriter{t}, "", 0)))

	err := p.Publish(context.Background(), seqOf(
		eventWithPublished("2025-06-10T00:00:00Z"),
		eventWithPublished("2025-06-11T00:00:00Z"),
		eventWithPublished("2025-06-12T00:00:00Z"),
	), "", server.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
	require.Equal(t, 2, requests)
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

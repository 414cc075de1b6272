package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/tracker/internal/domain"
)

const hypothesisTimeLayout = "2006-01-02T15:04:05.000000+00:00"

type hypothesis struct {
	base
}

func newHypothesis(env Env) Driver {
	return &hypothesis{base{env: env, name: "hypothesis"}}
}

type annotationList struct {
	Rows []annotation `json:"rows"`
}

type annotation struct {
	Created string `json:"created"`
	Links   struct {
		HTML      string `json:"html"`
		InContext string `json:"incontext"`
	} `json:"links"`
}

func (d *hypothesis) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.Username == "" {
			d.env.Logger.Printf("no username for %s, skipping", user.ActorID)
			d.markSkipped(ctx, user.ActorID)
			continue
		}
		if err := d.syncUser(ctx, user); err != nil {
			syncFailureCounter.WithLabelValues(d.name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", user.ActorID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *hypothesis) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	searchURL := fmt.Sprintf(d.env.Portal.EventURL("user_search_url"), user.Username)
	resp, err := d.get(ctx, searchURL, nil)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("annotation search: status %d", resp.StatusCode)
	}

	var annotations annotationList
	if err := json.NewDecoder(resp.Body).Decode(&annotations); err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("decode annotations: %w", err)
	}

	events := eventSeq(&d.base, annotations.Rows, func(note annotation) (domain.CanonicalEvent, error) {
		return d.normalize(note, user, searchURL)
	})

	var newest time.Time
	pubErr := d.publish(ctx, trackPublished(events, &newest), lastTracked)

	cursor := ""
	if pubErr == nil && !newest.IsZero() {
		cursor = newest.Format(domain.TimeLayout)
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), cursor, "")
	return pubErr
}

func (d *hypothesis) normalize(note annotation, user domain.PortalCredential, provURL string) (domain.CanonicalEvent, error) {
	created, err := time.Parse(hypothesisTimeLayout, note.Created)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("parse annotation created stamp: %w", err)
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  d.env.Portal.PortalURL + "users/" + user.Username,
	}
	event.Event.Target = domain.Target{
		ID:   d.env.Portal.PortalURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = created.UTC().Format(domain.TimeLayout)
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}

	// Both views of the same annotation: standalone and in the context of
	// the annotated page.
	items := []domain.Item{
		{Type: []string{"Link", "Note", "schema:Comment"}, Href: note.Links.HTML},
		{Type: []string{"Link", "Note", "schema:Comment"}, Href: note.Links.InContext},
	}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: len(items),
		Items:      items,
	}
	return event, nil
}

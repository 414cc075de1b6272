package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"example.com/tracker/internal/domain"
)

// website probes a personal site for reachability and emits a single
// profile-page observation per visit.
type website struct {
	base
}

func newWebsite(env Env) Driver {
	return &website{base{env: env, name: "personal_website"}}
}

func (d *website) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.PortalURL == "" {
			d.env.Logger.Printf("no website url for %s, skipping", user.ActorID)
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

func (d *website) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	resp, err := d.get(ctx, user.PortalURL, nil)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("website probe: status %d", resp.StatusCode)
	}

	event := d.normalize(user)
	events := eventSeq(&d.base, []domain.CanonicalEvent{event}, func(ev domain.CanonicalEvent) (domain.CanonicalEvent, error) {
		return ev, nil
	})

	pubErr := d.publish(ctx, events, lastTracked)
	cursor := ""
	if pubErr == nil {
		cursor = event.Event.Published
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), cursor, "")
	return pubErr
}

func (d *website) normalize(user domain.PortalCredential) domain.CanonicalEvent {
	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		URL:  user.PortalURL,
	}
	event.Event.Target = domain.Target{
		ID:   user.PortalURL,
		Type: []string{"Collection"},
	}
	// A probe observes the site as it is now.
	event.Event.Published = event.Event.GeneratedAt
	event.Event.Type = []string{domain.ActionUpdate, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "WebPage", "schema:ProfilePage"},
			Href: user.PortalURL,
		}},
	}
	return event
}

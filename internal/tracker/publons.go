package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"example.com/tracker/internal/domain"
)

type publons struct {
	base
}

func newPublons(env Env) Driver {
	return &publons{base{env: env, name: "publons"}}
}

type publonsPage struct {
	Next    string          `json:"next"`
	Results []publonsReview `json:"results"`
}

type publonsReview struct {
	DateReviewed string `json:"date_reviewed"`
	IDs          struct {
		Academic struct {
			URL string `json:"url"`
		} `json:"academic"`
	} `json:"ids"`
}

func (d *publons) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.UserID == "" {
			d.env.Logger.Printf("no portal user id for %s, skipping", user.ActorID)
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

func (d *publons) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	searchURL := fmt.Sprintf(d.env.Portal.EventURL("user_search_url"), user.UserID)
	header := http.Header{"Authorization": {"Token " + user.APIKey}}

	// Review pages are published one at a time, following the next link in
	// each response body. A failing publish stops the walk; earlier pages
	// stand.
	var newest time.Time
	pageURL := searchURL
	status := 0
	for pageURL != "" {
		resp, err := d.get(ctx, pageURL, header)
		if err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
			return err
		}
		if resp.StatusCode != http.StatusOK {
			drainAndClose(resp)
			d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
			return fmt.Errorf("review search: status %d", resp.StatusCode)
		}
		status = resp.StatusCode

		var page publonsPage
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		drainAndClose(resp)
		if decodeErr != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
			return fmt.Errorf("decode review page: %w", decodeErr)
		}

		events := eventSeq(&d.base, page.Results, func(review publonsReview) (domain.CanonicalEvent, error) {
			return d.normalize(review, user, searchURL), nil
		})
		if err := d.publish(ctx, trackPublished(events, &newest), lastTracked); err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
			return err
		}
		pageURL = page.Next
	}

	cursor := ""
	if !newest.IsZero() {
		cursor = newest.Format(domain.TimeLayout)
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(status), cursor, "")
	return nil
}

func (d *publons) normalize(review publonsReview, user domain.PortalCredential, provURL string) domain.CanonicalEvent {
	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  fmt.Sprintf("https://publons.com/author/%s/", user.UserID),
	}
	event.Event.Target = domain.Target{
		ID:   d.env.Portal.PortalURL,
		Type: []string{"Collection"},
	}

	// Reviews carry only the year they were made. Reviews from the current
	// year fall back to the observation time, older ones to January 1st.
	if review.DateReviewed == strconv.Itoa(d.now().Year()) {
		event.Event.Published = event.Event.GeneratedAt
	} else {
		event.Event.Published = review.DateReviewed + "-01-01T00:00:00Z"
	}
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "Note", "schema:Review"},
			Href: review.IDs.Academic.URL,
		}},
	}
	return event
}

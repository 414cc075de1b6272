package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"example.com/tracker/internal/domain"
)

type wikipedia struct {
	base
}

func newWikipedia(env Env) Driver {
	return &wikipedia{base{env: env, name: "wikipedia"}}
}

type wikiContribs struct {
	Query struct {
		UserContribs []wikiContrib `json:"usercontribs"`
	} `json:"query"`
}

type wikiContrib struct {
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	RevID     int64  `json:"revid"`
	New       bool   `json:"new"`
}

func (d *wikipedia) Sync(ctx context.Context, users []domain.PortalCredential) error {
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

func (d *wikipedia) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	contribsURL := fmt.Sprintf(d.env.Portal.EventURL("contributions_url"), user.Username)
	if lastTracked != "" {
		// Contributions are listed newest first; ucend bounds the listing
		// at the last tracked stamp.
		contribsURL += "&ucend=" + lastTracked
	}

	resp, err := d.get(ctx, contribsURL, nil)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("contributions request: status %d", resp.StatusCode)
	}

	var contribs wikiContribs
	if err := json.NewDecoder(resp.Body).Decode(&contribs); err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("decode contributions: %w", err)
	}

	entries := contribs.Query.UserContribs
	if len(entries) == 0 {
		d.env.Logger.Printf("no contributions for %s", user.ActorID)
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return nil
	}

	events := eventSeq(&d.base, entries, func(contrib wikiContrib) (domain.CanonicalEvent, error) {
		return d.normalize(contrib, user, contribsURL), nil
	})

	pubErr := d.publish(ctx, events, lastTracked)
	cursor := ""
	if pubErr == nil {
		// Entries arrive newest first.
		cursor = entries[0].Timestamp
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), cursor, "")
	return pubErr
}

func (d *wikipedia) normalize(contrib wikiContrib, user domain.PortalCredential, provURL string) domain.CanonicalEvent {
	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  "https://wikipedia.org/wiki/User:" + user.Username,
	}
	event.Event.Target = domain.Target{
		ID:   d.env.Portal.PortalURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = contrib.Timestamp
	if contrib.New {
		event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactCreation, domain.TagTracker}
	} else {
		event.Event.Type = []string{domain.ActionUpdate, domain.TagArtifactInteraction, domain.TagTracker}
	}

	// Each revision yields a pair of memento items: the revision itself
	// and its diff against the previous one.
	pageURL := "https://wikipedia.org/wiki/" + strings.ReplaceAll(contrib.Title, " ", "_")
	revision := fmt.Sprintf("?oldid=%d", contrib.RevID)
	diff := fmt.Sprintf("?diff=prev&oldid=%d", contrib.RevID)
	items := []domain.Item{
		{
			Type:             []string{"Link", "Article", "schema:Article"},
			Href:             pageURL + revision,
			OriginalResource: pageURL,
			Memento:          pageURL + revision,
			MementoDatetime:  contrib.Timestamp,
		},
		{
			Type:             []string{"Link", "Article", "schema:Article"},
			Href:             pageURL + diff,
			OriginalResource: pageURL + "?diff=prev",
			Memento:          pageURL + diff,
			MementoDatetime:  contrib.Timestamp,
		},
	}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: len(items),
		Items:      items,
	}
	return event
}

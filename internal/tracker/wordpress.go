package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmcdole/gofeed"

	"example.com/tracker/internal/domain"
)

const wordpressTimeLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

type wordpress struct {
	base
}

func newWordpress(env Env) Driver {
	return &wordpress{base{env: env, name: "wordpress"}}
}

func (d *wordpress) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.PortalURL == "" {
			d.env.Logger.Printf("no blog url for %s, skipping", user.ActorID)
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

func (d *wordpress) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	feedURL := user.PortalURL + "feed/"
	feed, status, err := fetchFeed(ctx, &d.base, feedURL)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}

	updated, err := feedUpdated(feed, wordpressTimeLayout)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}
	// An unchanged feed stamp means nothing new since the last run.
	if lastTracked != "" && lastTracked == updated {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return nil
	}

	events := eventSeq(&d.base, feed.Items, func(item *gofeed.Item) (domain.CanonicalEvent, error) {
		return d.normalize(item, feed, user, feedURL)
	})

	pubErr := d.publish(ctx, events, lastTracked)
	cursor := ""
	if pubErr == nil {
		cursor = updated
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(status), cursor, "")
	return pubErr
}

func (d *wordpress) normalize(item *gofeed.Item, feed *gofeed.Feed, user domain.PortalCredential, provURL string) (domain.CanonicalEvent, error) {
	// Multi-author blogs syndicate everyone's posts in one feed.
	if itemAuthor(item) != user.Username {
		return domain.CanonicalEvent{}, errSkipRecord
	}
	published, err := itemPublished(item, wordpressTimeLayout)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)
	event.AddTool(feedParserURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  user.PortalURL + "author/" + user.Username,
	}
	event.Event.Target = domain.Target{
		ID:   user.PortalURL,
		Type: []string{"Collection"},
		Name: feed.Title,
	}
	event.Event.Published = published
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactCreation, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "Article", "schema:BlogPosting"},
			Href: item.Link,
		}},
	}
	return event, nil
}

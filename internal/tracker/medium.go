package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmcdole/gofeed"

	"example.com/tracker/internal/domain"
)

const mediumTimeLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

type medium struct {
	base
}

func newMedium(env Env) Driver {
	return &medium{base{env: env, name: "medium"}}
}

func (d *medium) Sync(ctx context.Context, users []domain.PortalCredential) error {
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

func (d *medium) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	feedURL := fmt.Sprintf(d.env.Portal.EventURL("posts_feed_url"), user.Username)
	feed, status, err := fetchFeed(ctx, &d.base, feedURL)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}

	updated, err := feedUpdated(feed, mediumTimeLayout)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}
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

func (d *medium) normalize(item *gofeed.Item, feed *gofeed.Feed, user domain.PortalCredential, provURL string) (domain.CanonicalEvent, error) {
	published, err := itemPublished(item, mediumTimeLayout)
	if err != nil {
		return domain.CanonicalEvent{}, err
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)
	event.AddTool(feedParserURL)

	profileURL := "https://medium.com/@" + user.Username
	actor := domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  profileURL,
	}
	if feed.Image != nil {
		actor.Image = &domain.Image{Type: "Link", Href: feed.Image.URL}
	}
	event.Event.Actor = actor
	event.Event.Target = domain.Target{
		ID:   profileURL,
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

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

type stackOverflow struct {
	base
}

func newStackOverflow(env Env) Driver {
	return &stackOverflow{base{env: env, name: "stackoverflow"}}
}

type soPostList struct {
	Items []soPost `json:"items"`
}

type soPost struct {
	Owner        soOwner `json:"owner"`
	PostType     string  `json:"post_type"`
	CreationDate int64   `json:"creation_date"`
	Link         string  `json:"link"`
}

type soOwner struct {
	Link         string `json:"link"`
	ProfileImage string `json:"profile_image"`
}

func (d *stackOverflow) Sync(ctx context.Context, users []domain.PortalCredential) error {
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

func (d *stackOverflow) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	// The API always compresses responses. Leave Accept-Encoding to the
	// transport so it also decompresses them.
	postsURL := fmt.Sprintf(d.env.Portal.EventURL("user_posts_url"), user.UserID)
	resp, err := d.get(ctx, postsURL, nil)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("user posts request: status %d", resp.StatusCode)
	}

	var posts soPostList
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("decode user posts: %w", err)
	}

	events := eventSeq(&d.base, posts.Items, func(post soPost) (domain.CanonicalEvent, error) {
		return d.normalize(post, user, postsURL), nil
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

func (d *stackOverflow) normalize(post soPost, user domain.PortalCredential, provURL string) domain.CanonicalEvent {
	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		URL:  post.Owner.Link,
		Image: &domain.Image{
			Type: "Link",
			Href: post.Owner.ProfileImage,
		},
	}
	event.Event.Target = domain.Target{
		ID:   d.env.Portal.PortalURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = time.Unix(post.CreationDate, 0).UTC().Format(domain.TimeLayout)
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}

	itemType := []string{"Link", "Note", "schema:Answer"}
	if post.PostType == "question" {
		itemType = []string{"Link", "Note", "schema:Question"}
	}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items:      []domain.Item{{Type: itemType, Href: post.Link}},
	}
	return event
}

package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dghubble/oauth1"

	"example.com/tracker/internal/domain"
)

const twitterTimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

type twitter struct {
	base
}

func newTwitter(env Env) Driver {
	return &twitter{base{env: env, name: "twitter"}}
}

type tweet struct {
	IDStr     string      `json:"id_str"`
	CreatedAt string      `json:"created_at"`
	User      tweetAuthor `json:"user"`
}

type tweetAuthor struct {
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url_https"`
}

func (d *twitter) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.APIKey == "" || user.APISecret == "" {
			d.env.Logger.Printf("api key or secret missing for %s, skipping", user.ActorID)
			d.markSkipped(ctx, user.ActorID)
			continue
		}
		if user.OAuthToken == "" || user.OAuthSecret == "" {
			d.env.Logger.Printf("oauth token or secret missing for %s, skipping", user.ActorID)
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

func (d *twitter) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, lastToken := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	config := oauth1.NewConfig(user.APIKey, user.APISecret)
	token := oauth1.NewToken(user.OAuthToken, user.OAuthSecret)
	client := config.Client(ctx, token)

	timelineURL := fmt.Sprintf(d.env.Portal.EventURL("user_timeline_url"), user.Username)
	sinceURL := timelineURL
	firstTrack := lastToken == ""
	if !firstTrack {
		// since_id dedups at the API level: only tweets newer than the
		// largest id seen previously are returned.
		sinceURL += "&since_id=" + lastToken
	}

	timeline, status, err := d.fetchTimeline(ctx, client, sinceURL)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}
	if len(timeline) == 0 {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return nil
	}

	sinceID := timeline[0].IDStr
	maxID := timeline[len(timeline)-1].IDStr
	collected := timeline

	// The timeline caps each response, so the first track pages backwards
	// until the window is exhausted.
	for firstTrack && maxID != "" {
		page, pageStatus, err := d.fetchTimeline(ctx, client, timelineURL+"&max_id="+maxID)
		status = pageStatus
		if err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(pageStatus), "", "")
			return err
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		pageSince, pageMax := page[0].IDStr, page[len(page)-1].IDStr
		if pageSince == pageMax {
			break
		}
		maxID = pageMax
	}

	events := eventSeq(&d.base, collected, func(tw tweet) (domain.CanonicalEvent, error) {
		return d.normalize(tw, user, timelineURL, lastToken)
	})

	pubErr := d.publish(ctx, events, lastTracked)
	cursorToken := ""
	if pubErr == nil {
		cursorToken = sinceID
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", cursorToken)
	return pubErr
}

func (d *twitter) fetchTimeline(ctx context.Context, client *http.Client, url string) ([]tweet, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer drainAndClose(resp)
	fetchCounter.WithLabelValues(d.name).Inc()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("timeline request: status %d", resp.StatusCode)
	}
	var timeline []tweet
	if err := json.NewDecoder(resp.Body).Decode(&timeline); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode timeline: %w", err)
	}
	return timeline, resp.StatusCode, nil
}

func (d *twitter) normalize(tw tweet, user domain.PortalCredential, provURL, lastToken string) (domain.CanonicalEvent, error) {
	created, err := time.Parse(twitterTimeLayout, tw.CreatedAt)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("parse tweet created stamp: %w", err)
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, lastToken, d.now())
	event.AddSource(provURL)

	profileURL := "https://www.twitter.com/" + tw.User.ScreenName
	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  profileURL,
		Image: &domain.Image{
			Type: "Link",
			Href: tw.User.ProfileImageURL,
		},
	}
	event.Event.Target = domain.Target{
		ID:   profileURL,
		Type: []string{"Collection", "schema:Blog"},
	}
	event.Event.Published = created.UTC().Format(domain.TimeLayout)
	event.Event.Type = []string{domain.ActionCreate, domain.TagArtifactCreation, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "Note", "schema:SocialMediaPosting"},
			Href: profileURL + "/status/" + tw.IDStr,
		}},
	}
	return event, nil
}

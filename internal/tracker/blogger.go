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

type blogger struct {
	base
}

func newBlogger(env Env) Driver {
	return &blogger{base{env: env, name: "blogger"}}
}

type bloggerBlog struct {
	ID      string `json:"id"`
	Updated string `json:"updated"`
	Posts   struct {
		TotalItems int `json:"totalItems"`
	} `json:"posts"`
}

type bloggerPostPage struct {
	NextPageToken string        `json:"nextPageToken"`
	Items         []bloggerPost `json:"items"`
}

type bloggerPost struct {
	URL       string        `json:"url"`
	Published string        `json:"published"`
	Author    bloggerAuthor `json:"author"`
}

type bloggerAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	URL         string `json:"url"`
}

func (d *blogger) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.PortalURL == "" || user.UserID == "" {
			d.env.Logger.Printf("blog url or user id missing for %s, skipping", user.ActorID)
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

func (d *blogger) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, _ := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	blogURL := fmt.Sprintf(d.env.Portal.EventURL("blog_domain_url"), user.PortalURL, user.APIKey)
	blog, status, err := d.fetchBlog(ctx, blogURL)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return err
	}

	if blog.Posts.TotalItems == 0 {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return nil
	}

	updated, err := canonicalRFC3339(blog.Updated)
	if err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return fmt.Errorf("parse blog updated stamp: %w", err)
	}
	if lastTracked != "" && lastTracked == updated {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return nil
	}

	postsURL := fmt.Sprintf(d.env.Portal.EventURL("blog_posts_url"), blog.ID, user.APIKey)
	provURL := fmt.Sprintf(d.env.Portal.EventURL("blog_posts_url"), blog.ID, "")

	// Pages are published one at a time. A failing page records its status
	// and stops; pages already delivered stand.
	pageURL := postsURL
	pageProv := provURL
	for {
		page, pageStatus, err := d.fetchPosts(ctx, pageURL)
		status = pageStatus
		if err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(pageStatus), "", "")
			return err
		}

		events := eventSeq(&d.base, page.Items, func(post bloggerPost) (domain.CanonicalEvent, error) {
			return d.normalize(post, user, pageProv)
		})
		if err := d.publish(ctx, events, lastTracked); err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(pageStatus), "", "")
			return err
		}

		if page.NextPageToken == "" {
			break
		}
		pageURL = postsURL + "&pageToken=" + page.NextPageToken
		pageProv = provURL + "&pageToken=" + page.NextPageToken
	}

	d.finalize(ctx, user.ActorID, domain.StatusCode(status), updated, "")
	return nil
}

func (d *blogger) fetchBlog(ctx context.Context, url string) (*bloggerBlog, int, error) {
	resp, err := d.get(ctx, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("blog lookup: status %d", resp.StatusCode)
	}
	var blog bloggerBlog
	if err := json.NewDecoder(resp.Body).Decode(&blog); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode blog lookup: %w", err)
	}
	return &blog, resp.StatusCode, nil
}

func (d *blogger) fetchPosts(ctx context.Context, url string) (*bloggerPostPage, int, error) {
	resp, err := d.get(ctx, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("blog posts page: status %d", resp.StatusCode)
	}
	var page bloggerPostPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode blog posts page: %w", err)
	}
	return &page, resp.StatusCode, nil
}

func (d *blogger) normalize(post bloggerPost, user domain.PortalCredential, provURL string) (domain.CanonicalEvent, error) {
	// The posts listing covers every blog author.
	if post.Author.ID != user.UserID {
		return domain.CanonicalEvent{}, errSkipRecord
	}
	published, err := canonicalRFC3339(post.Published)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("parse post published stamp: %w", err)
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: post.Author.DisplayName,
		URL:  post.Author.URL,
	}
	event.Event.Target = domain.Target{
		ID:   user.PortalURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = published
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactCreation, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "Article", "schema:BlogPosting"},
			Href: post.URL,
		}},
	}
	return event, nil
}

// canonicalRFC3339 re-renders an RFC 3339 stamp in canonical UTC form.
func canonicalRFC3339(value string) (string, error) {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", err
	}
	return ts.UTC().Format(domain.TimeLayout), nil
}

package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/tracker/internal/domain"
)

type github struct {
	base
}

func newGithub(env Env) Driver {
	return &github{base{env: env, name: "github"}}
}

type ghEvent struct {
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Actor     ghUser          `json:"actor"`
	Repo      ghRepo          `json:"repo"`
	Payload   json.RawMessage `json:"payload"`
}

type ghUser struct {
	Login     string `json:"login"`
	URL       string `json:"url"`
	HTMLURL   string `json:"html_url"`
	AvatarURL string `json:"avatar_url"`
}

type ghRepo struct {
	URL string `json:"url"`
}

// githubEventMap routes each supported event type to its normalizer.
// Unsupported types are dropped.
var githubEventMap = map[string]func(*github, ghEvent, domain.PortalCredential, string) (domain.CanonicalEvent, error){
	"CreateEvent":        (*github).onCreate,
	"WatchEvent":         (*github).onWatch,
	"PushEvent":          (*github).onPush,
	"IssuesEvent":        (*github).onIssues,
	"IssueCommentEvent":  (*github).onIssueComment,
	"PullRequestEvent":   (*github).onPullRequest,
	"CommitCommentEvent": (*github).onCommitComment,
}

func (d *github) Sync(ctx context.Context, users []domain.PortalCredential) error {
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

func (d *github) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, lastToken := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	timelineURL := fmt.Sprintf(d.env.Portal.EventURL("user_events_url"), user.Username)
	timelineURL += fmt.Sprintf("?client_id=%s&client_secret=%s", user.APIKey, user.APISecret)

	header := http.Header{}
	if lastToken != "" {
		// The API dedups server side against the ETag of the last
		// response.
		header.Set("If-None-Match", lastToken)
	}

	resp, err := d.get(ctx, timelineURL, header)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	if resp.StatusCode != http.StatusOK {
		drainAndClose(resp)
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		if resp.StatusCode == http.StatusNotModified {
			return nil
		}
		return fmt.Errorf("user events request: status %d", resp.StatusCode)
	}

	etag := strings.TrimSpace(resp.Header.Get("ETag"))
	status := resp.StatusCode

	var received []ghEvent
	decodeErr := json.NewDecoder(resp.Body).Decode(&received)
	next := nextLink(resp.Header.Get("Link"))
	drainAndClose(resp)
	if decodeErr != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
		return fmt.Errorf("decode user events: %w", decodeErr)
	}

	// The timeline only spans the recent past; all pages are collected
	// before normalizing.
	for next != "" {
		pageResp, err := d.get(ctx, next, header)
		if err != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
			return err
		}
		if pageResp.StatusCode != http.StatusOK {
			drainAndClose(pageResp)
			d.finalize(ctx, user.ActorID, domain.StatusCode(pageResp.StatusCode), "", "")
			return fmt.Errorf("user events page: status %d", pageResp.StatusCode)
		}
		var page []ghEvent
		decodeErr := json.NewDecoder(pageResp.Body).Decode(&page)
		next = nextLink(pageResp.Header.Get("Link"))
		drainAndClose(pageResp)
		if decodeErr != nil {
			d.finalize(ctx, user.ActorID, domain.StatusCode(status), "", "")
			return fmt.Errorf("decode user events page: %w", decodeErr)
		}
		received = append(received, page...)
	}

	events := eventSeq(&d.base, received, func(ev ghEvent) (domain.CanonicalEvent, error) {
		normalize, ok := githubEventMap[ev.Type]
		if !ok {
			return domain.CanonicalEvent{}, errSkipRecord
		}
		return normalize(d, ev, user, etag)
	})

	var newest time.Time
	pubErr := d.publish(ctx, trackPublished(events, &newest), lastTracked)

	cursorTime, cursorToken := "", ""
	if pubErr == nil {
		cursorToken = etag
		if !newest.IsZero() {
			cursorTime = newest.Format(domain.TimeLayout)
		}
	}
	d.finalize(ctx, user.ActorID, domain.StatusCode(status), cursorTime, cursorToken)
	return pubErr
}

// nextLink extracts the rel="next" target from a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		url := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, param := range segments[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return url
			}
		}
	}
	return ""
}

// htmlURL rewrites an API resource URL into its web equivalent.
func htmlURL(url string) string {
	url = strings.ReplaceAll(url, "api.", "")
	url = strings.ReplaceAll(url, "repos/", "")
	url = strings.ReplaceAll(url, "users/", "")
	return url
}

// ghActorMD builds the actor section from event metadata. Without a profile
// URL there is nothing to attribute and the section stays empty.
func (d *github) ghActorMD(md ghUser, user domain.PortalCredential) domain.Actor {
	if md.URL == "" && md.HTMLURL == "" {
		return domain.Actor{}
	}
	url := md.HTMLURL
	if url == "" {
		url = htmlURL(md.URL)
	}
	actor := domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  url,
	}
	if md.AvatarURL != "" {
		actor.Image = &domain.Image{Type: "Link", Href: md.AvatarURL}
	}
	return actor
}

func (d *github) newEvent(ev ghEvent, etag string) domain.CanonicalEvent {
	event := domain.NewEvent(d.env.EventBaseURL, d.name, etag, d.now())
	event.AddSource(d.env.Portal.PortalURL)
	event.Event.Published = ev.CreatedAt
	return event
}

func singleItem(itemType []string, href string) domain.Object {
	return domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items:      []domain.Item{{Type: itemType, Href: href}},
	}
}

func (d *github) onCreate(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		RefType string `json:"ref_type"`
		Ref     string `json:"ref"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("create event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(ev.Actor, user)
	event.Event.Target = domain.Target{ID: htmlURL(ev.Actor.URL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionCreate, domain.TagArtifactCreation, domain.TagTracker}

	href := htmlURL(ev.Repo.URL)
	if payload.RefType == "tag" {
		href = fmt.Sprintf("%s/releases/tag/%s", htmlURL(ev.Repo.URL), payload.Ref)
	}
	event.Event.Object = singleItem([]string{"Link", "Document", "schema:SoftwareSourceCode"}, href)
	return event, nil
}

func (d *github) onWatch(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(ev.Actor, user)
	event.Event.Target = domain.Target{ID: htmlURL(ev.Repo.URL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionLike, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = singleItem([]string{"Link", "Document", "schema:SoftwareSourceCode"}, htmlURL(ev.Repo.URL))
	return event, nil
}

func (d *github) onPush(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		Commits []struct {
			URL string `json:"url"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("push event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(ev.Actor, user)
	event.Event.Target = domain.Target{ID: htmlURL(ev.Repo.URL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}

	object := domain.Object{Type: "Collection"}
	if len(payload.Commits) > 0 {
		object.TotalItems = 1
		object.Items = []domain.Item{{
			Type: []string{"Link", "Document", "schema:SoftwareSourceCode"},
			Href: htmlURL(payload.Commits[0].URL),
		}}
	}
	event.Event.Object = object
	return event, nil
}

func (d *github) onIssues(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		Issue struct {
			RepositoryURL string `json:"repository_url"`
			HTMLURL       string `json:"html_url"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("issues event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(ev.Actor, user)
	event.Event.Target = domain.Target{ID: htmlURL(payload.Issue.RepositoryURL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = singleItem([]string{"Link", "Article", "schema:Question"}, payload.Issue.HTMLURL)
	return event, nil
}

func (d *github) onIssueComment(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		Comment struct {
			User    ghUser `json:"user"`
			HTMLURL string `json:"html_url"`
		} `json:"comment"`
		Issue struct {
			RepositoryURL string `json:"repository_url"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("issue comment event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(payload.Comment.User, user)
	event.Event.Target = domain.Target{ID: htmlURL(payload.Issue.RepositoryURL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = singleItem([]string{"Link", "Note", "schema:Comment"}, payload.Comment.HTMLURL)
	return event, nil
}

func (d *github) onPullRequest(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		PullRequest struct {
			User     ghUser  `json:"user"`
			MergedBy *ghUser `json:"merged_by"`
			HTMLURL  string  `json:"html_url"`
			Base     struct {
				Repo struct {
					HTMLURL string `json:"html_url"`
				} `json:"repo"`
			} `json:"base"`
		} `json:"pull_request"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("pull request event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	pr := payload.PullRequest
	switch {
	case pr.User.Login == user.Username:
		// The tracked user offered the pull request.
		event.Event.Actor = d.ghActorMD(pr.User, user)
		event.Event.Type = []string{domain.ActionOffer, domain.TagArtifactInteraction, domain.TagTracker}
	case pr.MergedBy != nil:
		event.Event.Actor = d.ghActorMD(*pr.MergedBy, user)
		event.Event.Type = []string{domain.ActionAccept, domain.TagArtifactInteraction, domain.TagTracker}
	default:
		// Closed without merging; could be reopened later.
		event.Event.Actor = d.ghActorMD(ev.Actor, user)
		event.Event.Type = []string{domain.ActionTentativeReject, domain.TagArtifactInteraction, domain.TagTracker}
	}
	event.Event.Target = domain.Target{ID: htmlURL(pr.Base.Repo.HTMLURL), Type: []string{"Collection"}}
	event.Event.Object = singleItem([]string{"Link", "Document", "schema:SoftwareSourceCode"}, pr.HTMLURL)
	return event, nil
}

func (d *github) onCommitComment(ev ghEvent, user domain.PortalCredential, etag string) (domain.CanonicalEvent, error) {
	var payload struct {
		Comment struct {
			User    ghUser `json:"user"`
			HTMLURL string `json:"html_url"`
		} `json:"comment"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("commit comment event payload: %w", err)
	}

	event := d.newEvent(ev, etag)
	event.Event.Actor = d.ghActorMD(payload.Comment.User, user)
	event.Event.Target = domain.Target{ID: htmlURL(ev.Repo.URL), Type: []string{"Collection"}}
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactInteraction, domain.TagTracker}
	event.Event.Object = singleItem([]string{"Link", "Note", "schema:Comment"}, payload.Comment.HTMLURL)
	return event, nil
}

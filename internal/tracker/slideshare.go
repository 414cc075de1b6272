package tracker

import (
	"context"
	"crypto/sha1"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"example.com/tracker/internal/domain"
)

const slideshareTimeLayout = "2006-01-02 15:04:05 MST"

type slideshare struct {
	base
}

func newSlideshare(env Env) Driver {
	return &slideshare{base{env: env, name: "slideshare"}}
}

type slideshowList struct {
	XMLName    xml.Name    `xml:"User"`
	Slideshows []slideshow `xml:"Slideshow"`
}

type slideshow struct {
	URL               string `xml:"URL"`
	Created           string `xml:"Created"`
	ThumbnailSmallURL string `xml:"ThumbnailSmallURL"`
}

func (d *slideshare) Sync(ctx context.Context, users []domain.PortalCredential) error {
	var errs []error
	for _, user := range users {
		if user.APIKey == "" || user.APISecret == "" {
			d.env.Logger.Printf("api key or secret missing for %s, skipping", user.ActorID)
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

func (d *slideshare) syncUser(ctx context.Context, user domain.PortalCredential) error {
	lastTracked, lastToken := d.cursor(ctx, user)
	d.begin(ctx, user.ActorID)

	slidesURL := d.env.Portal.EventURL("user_slides_url")
	ts, hash := signParams(user.APISecret, d.now())

	// The signed parameters lead, the stable ones follow and double as the
	// provenance URL.
	signed := url.Values{}
	signed.Set("api_key", user.APIKey)
	signed.Set("ts", ts)
	signed.Set("hash", hash)

	stable := url.Values{}
	stable.Set("username_for", user.Username)
	stable.Set("detailed", "1")
	if lastToken != "" {
		stable.Set("offset", lastToken)
	}

	requestURL := slidesURL + "?" + signed.Encode() + "&" + stable.Encode()
	provURL := slidesURL + "?" + stable.Encode()

	resp, err := d.get(ctx, requestURL, nil)
	if err != nil {
		d.finalize(ctx, user.ActorID, nil, "", "")
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("user slides request: status %d", resp.StatusCode)
	}

	var slides slideshowList
	if err := xml.NewDecoder(resp.Body).Decode(&slides); err != nil {
		d.finalize(ctx, user.ActorID, domain.StatusCode(resp.StatusCode), "", "")
		return fmt.Errorf("decode user slides: %w", err)
	}

	events := eventSeq(&d.base, slides.Slideshows, func(slide slideshow) (domain.CanonicalEvent, error) {
		return d.normalize(slide, user, provURL, lastToken)
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

// signParams produces the timestamped request signature the API requires:
// the hex SHA-1 of the shared secret concatenated with the unix timestamp.
func signParams(apiSecret string, now time.Time) (ts, hash string) {
	ts = strconv.FormatInt(now.UTC().Unix(), 10)
	sum := sha1.Sum([]byte(apiSecret + ts))
	return ts, fmt.Sprintf("%x", sum)
}

func (d *slideshare) normalize(slide slideshow, user domain.PortalCredential, provURL, lastToken string) (domain.CanonicalEvent, error) {
	created, err := time.Parse(slideshareTimeLayout, slide.Created)
	if err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("parse slideshow created stamp: %w", err)
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, lastToken, d.now())
	event.AddSource(provURL)

	profileURL := "https://slideshare.net/" + user.Username
	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		Name: user.Username,
		URL:  profileURL,
		Image: &domain.Image{
			Type: "Link",
			Href: slide.ThumbnailSmallURL,
		},
	}
	event.Event.Target = domain.Target{
		ID:   profileURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = created.UTC().Format(domain.TimeLayout)
	event.Event.Type = []string{domain.ActionAdd, domain.TagArtifactCreation, domain.TagTracker}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: 1,
		Items: []domain.Item{{
			Type: []string{"Link", "Article", "schema:PresentationDigitalDocument"},
			Href: slide.URL,
		}},
	}
	return event, nil
}

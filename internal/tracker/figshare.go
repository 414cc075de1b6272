package tracker

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/tracker/internal/domain"
)

// figshare harvests the portal-wide OAI-PMH feed once per job and matches
// records against the whole credential batch, instead of querying per user.
type figshare struct {
	base
}

func newFigshare(env Env) Driver {
	return &figshare{base{env: env, name: "figshare"}}
}

type oaiResponse struct {
	XMLName xml.Name    `xml:"OAI-PMH"`
	Error   oaiError    `xml:"error"`
	Records []oaiRecord `xml:"ListRecords>record"`
	Token   string      `xml:"ListRecords>resumptionToken"`
}

type oaiError struct {
	Code    string `xml:"code,attr"`
	Message string `xml:",chardata"`
}

type oaiRecord struct {
	Metadata struct {
		DC oaiDublinCore `xml:"dc"`
	} `xml:"metadata"`
}

type oaiDublinCore struct {
	Dates     []string `xml:"date"`
	Creators  []string `xml:"creator"`
	Relations []string `xml:"relation"`
}

func (r oaiRecord) date() (time.Time, error) {
	if len(r.Metadata.DC.Dates) == 0 {
		return time.Time{}, fmt.Errorf("record has no date")
	}
	return time.Parse(domain.TimeLayout, r.Metadata.DC.Dates[0])
}

func (d *figshare) Sync(ctx context.Context, users []domain.PortalCredential) error {
	recordsURL := d.env.Portal.EventURL("oai_pmh_url")
	lastRun := d.now()
	from := d.harvestWindow(ctx, users)
	fromStr := from.Format(domain.TimeLayout)

	// The whole batch shares one harvest, so every credential goes in
	// flight together and completes together.
	for _, user := range users {
		d.begin(ctx, user.ActorID)
	}

	byUserID := make(map[string]domain.PortalCredential, len(users))
	for _, user := range users {
		if user.UserID != "" {
			byUserID[user.UserID] = user
		}
	}

	harvestURL := recordsURL + "?verb=ListRecords&metadataPrefix=oai_dc&from=" + url.QueryEscape(fromStr)
	status := 0
	for harvestURL != "" {
		page, pageStatus, err := d.fetchPage(ctx, harvestURL)
		status = pageStatus
		if err != nil {
			d.completeAll(ctx, users, domain.StatusCode(pageStatus), "")
			syncFailureCounter.WithLabelValues(d.name).Inc()
			return err
		}
		if page.Error.Code == "noRecordsMatch" {
			d.completeAll(ctx, users, domain.StatusCode(pageStatus), "")
			return nil
		}
		if page.Error.Code != "" {
			d.completeAll(ctx, users, domain.StatusCode(pageStatus), "")
			syncFailureCounter.WithLabelValues(d.name).Inc()
			return fmt.Errorf("oai-pmh error %s: %s", page.Error.Code, page.Error.Message)
		}

		for _, record := range page.Records {
			date, err := record.date()
			if err != nil {
				d.env.Logger.Printf("record without usable date, stopping harvest: %v", err)
				d.completeAll(ctx, users, domain.StatusCode(pageStatus), "")
				return nil
			}
			// Records arrive newest first; anything older than the
			// window ends the harvest.
			if date.Before(from) {
				harvestURL = ""
				break
			}

			matched := d.matchAuthors(record, byUserID)
			if len(matched) == 0 {
				continue
			}
			events := eventSeq(&d.base, matched, func(user domain.PortalCredential) (domain.CanonicalEvent, error) {
				return d.normalize(record, user, recordsURL)
			})
			if err := d.publish(ctx, events, fromStr); err != nil {
				d.completeAll(ctx, users, domain.StatusCode(pageStatus), "")
				syncFailureCounter.WithLabelValues(d.name).Inc()
				return err
			}
		}

		if harvestURL != "" {
			harvestURL = ""
			if page.Token != "" {
				harvestURL = recordsURL + "?verb=ListRecords&resumptionToken=" + url.QueryEscape(page.Token)
			}
		}
	}

	d.completeAll(ctx, users, domain.StatusCode(status), lastRun.Format(domain.TimeLayout))
	return nil
}

// harvestWindow picks the earliest record date to accept: the most recent
// cursor across the batch, the configured floor, or the past day.
func (d *figshare) harvestWindow(ctx context.Context, users []domain.PortalCredential) time.Time {
	var mostRecent time.Time
	for _, user := range users {
		lastTracked, _ := d.cursor(ctx, user)
		if lastTracked == "" {
			continue
		}
		ts, err := time.Parse(domain.TimeLayout, lastTracked)
		if err != nil {
			continue
		}
		if ts.After(mostRecent) {
			mostRecent = ts
		}
	}
	if !mostRecent.IsZero() {
		return mostRecent
	}
	if d.env.DisallowBefore != "" {
		if ts, err := time.Parse(domain.TimeLayout, d.env.DisallowBefore); err == nil {
			return ts
		}
	}
	return d.now().Add(-24 * time.Hour)
}

func (d *figshare) completeAll(ctx context.Context, users []domain.PortalCredential, status *int, lastTracked string) {
	for _, user := range users {
		d.finalize(ctx, user.ActorID, status, lastTracked, "")
	}
}

func (d *figshare) fetchPage(ctx context.Context, url string) (*oaiResponse, int, error) {
	resp, err := d.get(ctx, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer drainAndClose(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("oai-pmh request: status %d", resp.StatusCode)
	}
	var page oaiResponse
	if err := xml.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode oai-pmh response: %w", err)
	}
	return &page, resp.StatusCode, nil
}

// matchAuthors resolves record creators like "Some O. Author (123456)"
// against the credential batch by embedded user id.
func (d *figshare) matchAuthors(record oaiRecord, byUserID map[string]domain.PortalCredential) []domain.PortalCredential {
	var matched []domain.PortalCredential
	for _, creator := range record.Metadata.DC.Creators {
		id := extractAuthorID(creator)
		if id == "" {
			continue
		}
		if user, ok := byUserID[id]; ok {
			matched = append(matched, user)
		}
	}
	return matched
}

func extractAuthorID(author string) string {
	start := strings.Index(author, " (")
	end := strings.Index(author, ")")
	if start == -1 || end == -1 || end < start+2 {
		return ""
	}
	return author[start+2 : end]
}

func (d *figshare) normalize(record oaiRecord, user domain.PortalCredential, provURL string) (domain.CanonicalEvent, error) {
	if user.ActorID == "" || user.Username == "" {
		return domain.CanonicalEvent{}, errSkipRecord
	}
	date, err := record.date()
	if err != nil {
		return domain.CanonicalEvent{}, err
	}

	event := domain.NewEvent(d.env.EventBaseURL, d.name, "", d.now())
	event.AddSource(provURL)

	event.Event.Actor = domain.Actor{
		ID:   user.ActorID,
		Type: "Person",
		URL:  fmt.Sprintf("https://figshare.com/authors/%s/%s", user.Username, user.UserID),
	}
	event.Event.Target = domain.Target{
		ID:   d.env.Portal.PortalURL,
		Type: []string{"Collection"},
	}
	event.Event.Published = date.UTC().Format(domain.TimeLayout)
	event.Event.Type = []string{domain.ActionCreate, domain.TagArtifactCreation, domain.TagTracker}

	items := make([]domain.Item, 0, len(record.Metadata.DC.Relations))
	for _, link := range record.Metadata.DC.Relations {
		items = append(items, domain.Item{
			Type: []string{"Link", "Document", "schema:Dataset"},
			Href: link,
		})
	}
	event.Event.Object = domain.Object{
		Type:       "Collection",
		TotalItems: len(items),
		Items:      items,
	}
	return event, nil
}

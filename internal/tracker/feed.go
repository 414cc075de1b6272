package tracker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"example.com/tracker/internal/domain"
)

// feedParserURL credits the feed parsing library in event provenance.
const feedParserURL = "https://github.com/mmcdole/gofeed"

// fetchFeed retrieves and parses a syndication feed. The status code is
// returned whenever a response was received, also on parse failure.
func fetchFeed(ctx context.Context, b *base, url string) (*gofeed.Feed, int, error) {
	resp, err := b.get(ctx, url, nil)
	if err != nil {
		return nil, 0, err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("feed request: status %d", resp.StatusCode)
	}
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("parse feed: %w", err)
	}
	return feed, resp.StatusCode, nil
}

// feedUpdated returns the feed-level update stamp in canonical form. Feeds
// without one cannot be deduplicated and fail here.
func feedUpdated(feed *gofeed.Feed, layout string) (string, error) {
	if feed.UpdatedParsed != nil {
		return feed.UpdatedParsed.UTC().Format(domain.TimeLayout), nil
	}
	if feed.Updated == "" {
		return "", fmt.Errorf("feed has no updated stamp")
	}
	ts, err := time.Parse(layout, feed.Updated)
	if err != nil {
		return "", fmt.Errorf("parse feed updated stamp: %w", err)
	}
	return ts.UTC().Format(domain.TimeLayout), nil
}

// itemPublished returns an entry's publication stamp in canonical form.
func itemPublished(item *gofeed.Item, layout string) (string, error) {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(domain.TimeLayout), nil
	}
	ts, err := time.Parse(layout, item.Published)
	if err != nil {
		return "", fmt.Errorf("parse entry published stamp: %w", err)
	}
	return ts.UTC().Format(domain.TimeLayout), nil
}

// itemAuthor returns the entry author name, empty when the feed omits it.
func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		return item.Author.Name
	}
	return ""
}

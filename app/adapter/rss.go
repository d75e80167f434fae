package adapter

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSAdapter reads RSS, Atom and JSON feeds whose item dates are event dates.
type RSSAdapter struct {
	fetcher *Fetcher
}

func NewRSSAdapter(fetcher *Fetcher) *RSSAdapter {
	return &RSSAdapter{fetcher: fetcher}
}

func (a *RSSAdapter) Fetch(ctx context.Context, req Request) (*Result, error) {
	data, _, err := a.fetcher.Get(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	loc := cmp.Or(req.Location, time.Local)

	result := &Result{}
	for i, item := range feed.Items {
		candidate, ok := a.toCandidate(item, loc)
		if !ok {
			result.Warnf("item %d (%q) has no parseable date", i+1, item.Title)
			continue
		}
		result.Candidates = append(result.Candidates, candidate)
	}

	if len(feed.Items) == 0 {
		result.Warnf("feed contains no items")
	}

	return result, nil
}

// toCandidate re-expresses the item date in loc; gofeed hands it over in UTC.
func (a *RSSAdapter) toCandidate(item *gofeed.Item, loc *time.Location) (Candidate, bool) {
	start := item.PublishedParsed
	if start == nil {
		start = item.UpdatedParsed
	}
	if start == nil {
		return Candidate{}, false
	}

	candidate := Candidate{
		Title:       strings.TrimSpace(item.Title),
		Description: strings.TrimSpace(cmp.Or(item.Description, item.Content)),
		Start:       start.In(loc),
		URL:         strings.TrimSpace(item.Link),
	}

	if len(item.Categories) > 0 {
		candidate.Category = item.Categories[0]
	}

	if item.Image != nil && item.Image.URL != "" {
		candidate.ImageURL = item.Image.URL
	} else {
		for _, enclosure := range item.Enclosures {
			if enclosure != nil && strings.HasPrefix(enclosure.Type, "image/") {
				candidate.ImageURL = enclosure.URL
				break
			}
		}
	}

	return candidate, true
}

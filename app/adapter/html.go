package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/lysyi3m/event-comb/app/source"
)

var errNoDate = errors.New("no date")

// clockPattern finds a time of day such as "21:00", "9pm" or "9 p.m." in free text.
var clockPattern = regexp.MustCompile(`(?i)\d{1,2}:\d{2}|\b\d{1,2}\s*[ap]\.?m\b`)

// HTMLAdapter scrapes listing pages with CSS selectors taken from the source
// configuration.
type HTMLAdapter struct {
	fetcher   *Fetcher
	extractor *ContentExtractor
}

func NewHTMLAdapter(fetcher *Fetcher) *HTMLAdapter {
	return &HTMLAdapter{
		fetcher:   fetcher,
		extractor: NewContentExtractor(),
	}
}

func (a *HTMLAdapter) ValidateConfig(sourceConfig *source.Config) error {
	sel := sourceConfig.Selectors
	if sel.Item == "" {
		return fmt.Errorf("html adapter requires selectors.item")
	}
	if sel.Title == "" {
		return fmt.Errorf("html adapter requires selectors.title")
	}
	if sel.Date == "" {
		return fmt.Errorf("html adapter requires selectors.date")
	}
	return nil
}

func (a *HTMLAdapter) Fetch(ctx context.Context, req Request) (*Result, error) {
	data, contentType, err := a.fetcher.Get(ctx, req.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	reader, err := charset.NewReader(bytes.NewReader(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}

	loc := req.Location
	if loc == nil {
		loc = time.Local
	}

	result := &Result{}
	sel := req.Selectors

	items := doc.Find(sel.Item)
	if items.Length() == 0 {
		result.Warnf("no events found with selector %q", sel.Item)
		return result, nil
	}

	items.Each(func(i int, s *goquery.Selection) {
		candidate, err := a.parseItem(s, sel, base, loc)
		if err != nil {
			result.Warnf("item %d (%q): %v", i+1, candidate.Title, err)
			return
		}
		result.Candidates = append(result.Candidates, candidate)
	})

	if req.Settings.ExtractDescription {
		a.fillDescriptions(ctx, req, result)
	}

	return result, nil
}

func (a *HTMLAdapter) parseItem(s *goquery.Selection, sel source.Selectors, base *url.URL, loc *time.Location) (Candidate, error) {
	candidate := Candidate{
		Title:       selectText(s, sel.Title, ""),
		Description: selectText(s, sel.Description, ""),
		Location:    selectText(s, sel.Location, ""),
		Category:    selectText(s, sel.Category, ""),
	}

	rawDate := selectText(s, sel.Date, sel.DateAttr)
	start, dateOnly, err := parseDate(rawDate, sel.DateLayout, loc)
	if err != nil {
		return candidate, err
	}
	candidate.Start = start
	candidate.DateOnly = dateOnly

	if rawEnd := selectText(s, sel.EndDate, sel.EndDateAttr); rawEnd != "" {
		if end, _, err := parseDate(rawEnd, sel.DateLayout, loc); err == nil {
			candidate.End = &end
		}
	}

	if sel.URL != "" {
		candidate.URL = resolveURL(base, selectText(s, sel.URL, "href"))
	} else if href, ok := s.Attr("href"); ok {
		candidate.URL = resolveURL(base, href)
	}

	if sel.Image != "" {
		imageAttr := sel.ImageAttr
		if imageAttr == "" {
			imageAttr = "src"
		}
		src := selectText(s, sel.Image, imageAttr)
		if src == "" {
			src = selectText(s, sel.Image, "data-src")
		}
		candidate.ImageURL = resolveURL(base, src)
	}

	return candidate, nil
}

// fillDescriptions fetches the detail page of every candidate lacking a
// description. Requests are paced by the source's requests_per_second.
func (a *HTMLAdapter) fillDescriptions(ctx context.Context, req Request, result *Result) {
	rps := req.Settings.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)

	for i := range result.Candidates {
		candidate := &result.Candidates[i]
		if candidate.Description != "" || candidate.URL == "" {
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			result.Warnf("description extraction stopped: %v", err)
			return
		}

		data, _, err := a.fetcher.Get(ctx, candidate.URL)
		if err != nil {
			result.Warnf("item %q: failed to fetch detail page: %v", candidate.Title, err)
			continue
		}

		text, err := a.extractor.Run(data, candidate.URL)
		if err != nil {
			result.Warnf("item %q: %v", candidate.Title, err)
			continue
		}
		candidate.Description = text
	}
}

// selectText returns the trimmed text, or the attribute when attr is set, of
// the first match of selector within s.
func selectText(s *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}

	node := s.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}

	if attr != "" {
		value, _ := node.Attr(attr)
		return strings.TrimSpace(value)
	}

	return strings.Join(strings.Fields(node.Text()), " ")
}

// parseDate reports whether the value carried a time of day through the
// returned dateOnly flag.
func parseDate(raw, layout string, loc *time.Location) (time.Time, bool, error) {
	if raw == "" {
		return time.Time{}, false, errNoDate
	}

	if layout != "" {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unparseable date %q: %w", raw, err)
		}
		return t, !layoutHasClock(layout), nil
	}

	t, err := dateparse.ParseIn(raw, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unparseable date %q: %w", raw, err)
	}

	return t, !clockPattern.MatchString(raw), nil
}

// layoutHasClock reports whether layout reads an hour or minute, by
// round-tripping a reference time through it.
func layoutHasClock(layout string) bool {
	ref := time.Date(2000, time.January, 2, 13, 47, 0, 0, time.UTC)
	t, err := time.Parse(layout, ref.Format(layout))
	if err != nil {
		return false
	}
	return t.Hour() != 0 || t.Minute() != 0
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}

	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	return base.ResolveReference(u).String()
}

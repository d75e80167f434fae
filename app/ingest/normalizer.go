// Package ingest turns adapter candidates into stored events: it normalizes
// them, matches them against existing rows and applies the upsert rules.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/lysyi3m/event-comb/app/adapter"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/source"
)

const dayLayout = "2006-01-02"

var (
	ErrMissingTitle = errors.New("candidate has no title")
	ErrMissingStart = errors.New("candidate has no start date")
)

// Options carries the per-source settings the normalizer and engine need.
type Options struct {
	SourceID      string
	DefaultHour   int
	DefaultMinute int
	CacheImages   bool
}

func NewOptions(sourceID string, settings source.Settings) (Options, error) {
	hour, minute, err := settings.DefaultClock()
	if err != nil {
		return Options{}, err
	}
	return Options{
		SourceID:      sourceID,
		DefaultHour:   hour,
		DefaultMinute: minute,
		CacheImages:   settings.ShouldCacheImages(),
	}, nil
}

type Normalizer struct {
	loc *time.Location
}

func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Normalize validates a candidate and builds the event record it describes.
// The image is left as the candidate's remote URL.
func (n *Normalizer) Normalize(c adapter.Candidate, opts Options) (*database.Event, error) {
	title := collapseSpace(c.Title)
	if title == "" {
		return nil, ErrMissingTitle
	}
	if c.Start.IsZero() {
		return nil, ErrMissingStart
	}

	eventDate := n.wallClock(c.Start)
	if c.DateOnly {
		eventDate = time.Date(eventDate.Year(), eventDate.Month(), eventDate.Day(),
			opts.DefaultHour, opts.DefaultMinute, 0, 0, n.loc)
	}

	endDate := eventDate
	if c.End != nil && !c.End.IsZero() {
		endDate = n.wallClock(*c.End)
		if endDate.Before(eventDate) {
			endDate = eventDate
		}
	}

	url := strings.TrimSpace(c.URL)

	return &database.Event{
		Title:       title,
		Description: strings.TrimSpace(c.Description),
		EventDate:   eventDate,
		StartDate:   eventDate,
		EndDate:     endDate,
		EventDay:    eventDate.Format(dayLayout),
		Category:    strings.TrimSpace(c.Category),
		Location:    strings.TrimSpace(c.Location),
		Image:       strings.TrimSpace(c.ImageURL),
		URL:         url,
		SourceID:    opts.SourceID,
		ContentKey:  ContentKey(title, eventDate, url),
	}, nil
}

// wallClock keeps the clock reading of t and discards its zone.
func (n *Normalizer) wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, n.loc)
}

// ContentKey identifies an event by canonical title, calendar day and,
// when known, its URL.
func ContentKey(title string, eventDate time.Time, url string) string {
	material := CanonicalTitle(title) + "|" + eventDate.Format(dayLayout)
	if url != "" {
		material += "|" + url
	}

	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

// CanonicalTitle is the form titles are compared in.
func CanonicalTitle(title string) string {
	return strings.ToLower(norm.NFC.String(collapseSpace(title)))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

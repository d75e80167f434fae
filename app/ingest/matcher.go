package ingest

import (
	"context"
	"fmt"

	"github.com/lysyi3m/event-comb/app/database"
)

type Tier int

const (
	TierNone Tier = iota
	TierContentKey
	TierURL
	TierTitleDay
)

func (t Tier) String() string {
	switch t {
	case TierContentKey:
		return "content_key"
	case TierURL:
		return "url"
	case TierTitleDay:
		return "title_day"
	default:
		return "none"
	}
}

type Match struct {
	Tier  Tier
	Event *database.Event
}

type Matcher struct {
	events database.EventRepository
}

func NewMatcher(events database.EventRepository) *Matcher {
	return &Matcher{events: events}
}

// Match looks up an existing event for a normalized record. Tiers are tried
// in order and the first hit wins.
func (m *Matcher) Match(ctx context.Context, event *database.Event) (Match, error) {
	existing, err := m.events.GetEventByContentKey(ctx, event.ContentKey)
	if err != nil {
		return Match{}, fmt.Errorf("failed to match by content key: %w", err)
	}
	if existing != nil {
		return Match{Tier: TierContentKey, Event: existing}, nil
	}

	if event.URL != "" {
		existing, err = m.events.GetEventByURL(ctx, event.URL)
		if err != nil {
			return Match{}, fmt.Errorf("failed to match by URL: %w", err)
		}
		if existing != nil {
			return Match{Tier: TierURL, Event: existing}, nil
		}
	}

	sameDay, err := m.events.GetEventsByDay(ctx, event.EventDay)
	if err != nil {
		return Match{}, fmt.Errorf("failed to match by title and day: %w", err)
	}
	title := CanonicalTitle(event.Title)
	for i := range sameDay {
		if CanonicalTitle(sameDay[i].Title) == title {
			return Match{Tier: TierTitleDay, Event: &sameDay[i]}, nil
		}
	}

	return Match{Tier: TierNone}, nil
}

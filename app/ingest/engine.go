package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/event-comb/app/adapter"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/images"
	"github.com/lysyi3m/event-comb/app/metrics"
)

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeNew
)

// Result describes what happened to one candidate. Warnings are
// recoverable problems to surface in the run report.
type Result struct {
	Outcome      Outcome
	Tier         Tier
	EventID      string
	Corrected    bool
	ImageUpdated bool
	Warnings     []string
}

type ImageResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

type Engine struct {
	events     database.EventRepository
	normalizer *Normalizer
	matcher    *Matcher
	images     ImageResolver
	metrics    *metrics.Metrics
}

// NewEngine builds an upsert engine. A nil resolver keeps remote image URLs
// as they are.
func NewEngine(events database.EventRepository, normalizer *Normalizer, resolver ImageResolver, m *metrics.Metrics) *Engine {
	return &Engine{
		events:     events,
		normalizer: normalizer,
		matcher:    NewMatcher(events),
		images:     resolver,
		metrics:    m,
	}
}

// Ingest normalizes, matches and stores one candidate. ErrMissingTitle and
// ErrMissingStart mean the candidate was dropped; any other error is a store
// failure for this candidate only.
func (e *Engine) Ingest(ctx context.Context, candidate adapter.Candidate, opts Options) (Result, error) {
	event, err := e.normalizer.Normalize(candidate, opts)
	if err != nil {
		return Result{}, err
	}

	match, err := e.matcher.Match(ctx, event)
	if err != nil {
		return Result{}, err
	}

	if match.Tier == TierNone {
		return e.insert(ctx, event, opts)
	}

	result := Result{
		Outcome: OutcomeSkipped,
		Tier:    match.Tier,
		EventID: match.Event.ID,
	}

	if match.Tier == TierURL && match.Event.EventDay != event.EventDay {
		e.correctSchedule(ctx, match.Event, event, &result)
	}

	if err := e.retainImage(ctx, match.Event, event, opts, &result); err != nil {
		return result, err
	}

	return result, nil
}

func (e *Engine) insert(ctx context.Context, event *database.Event, opts Options) (Result, error) {
	result := Result{Tier: TierNone}

	if event.Image != "" && opts.CacheImages && e.images != nil {
		local, err := e.images.Resolve(ctx, event.Image)
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("image for %q not cached: %v", event.Title, err))
		} else {
			event.Image = local
		}
	}

	inserted, err := e.events.InsertEventIfAbsent(ctx, event)
	if err != nil {
		return result, err
	}

	if !inserted {
		// Another run stored the same key between match and insert.
		slog.Debug("Event inserted concurrently", "title", event.Title, "content_key", event.ContentKey)
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	result.Outcome = OutcomeNew
	result.EventID = event.ID
	return result, nil
}

// correctSchedule moves a URL-matched event to the candidate's day. The key is
// rebuilt from the stored title so manual title edits survive.
func (e *Engine) correctSchedule(ctx context.Context, stored, incoming *database.Event, result *Result) {
	schedule := database.Schedule{
		EventDate:  incoming.EventDate,
		StartDate:  incoming.StartDate,
		EndDate:    incoming.EndDate,
		EventDay:   incoming.EventDay,
		ContentKey: ContentKey(stored.Title, incoming.EventDate, stored.URL),
	}

	err := e.events.UpdateEventSchedule(ctx, stored.ID, schedule)
	if errors.Is(err, database.ErrContentKeyConflict) {
		e.metrics.Correction(false)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("date correction for %q to %s conflicts with another event, left unchanged",
				stored.Title, incoming.EventDay))
		return
	}
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("date correction for %q failed: %v", stored.Title, err))
		return
	}

	slog.Info("Event date corrected",
		"id", stored.ID,
		"from", stored.EventDay,
		"to", incoming.EventDay)

	e.metrics.Correction(true)
	result.Corrected = true
}

func (e *Engine) retainImage(ctx context.Context, stored, incoming *database.Event, opts Options, result *Result) error {
	if incoming.Image == "" || images.IsLocal(stored.Image) {
		return nil
	}
	if !opts.CacheImages || e.images == nil {
		return nil
	}

	local, err := e.images.Resolve(ctx, incoming.Image)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("image for %q not cached: %v", stored.Title, err))
		return nil
	}

	if !ShouldReplaceImage(stored.Image, local) {
		return nil
	}

	updated, err := e.events.UpdateEventImage(ctx, stored.ID, local)
	if err != nil {
		return err
	}
	result.ImageUpdated = updated
	return nil
}

// ShouldReplaceImage reports whether next may overwrite current. Only a local
// path replaces an empty or remote image, so a stored local image never
// changes.
func ShouldReplaceImage(current, next string) bool {
	return images.IsLocal(next) && !images.IsLocal(current)
}

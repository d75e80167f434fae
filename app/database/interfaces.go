package database

import (
	"context"
	"time"
)

type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	GetSources(ctx context.Context) ([]Source, error)
	GetActiveSources(ctx context.Context) ([]Source, error)
	GetSourceCount(ctx context.Context) (int, error)

	UpsertSource(ctx context.Context, name, url, adapter string, active bool) (string, error)
	UpdateLastRunAt(ctx context.Context, id string, at time.Time) error
}

type EventRepository interface {
	GetEventByContentKey(ctx context.Context, contentKey string) (*Event, error)
	GetEventByURL(ctx context.Context, url string) (*Event, error)
	GetEventsByDay(ctx context.Context, day string) ([]Event, error)
	GetEventCount(ctx context.Context) (int, error)
	GetSourceEventCount(ctx context.Context, sourceID string) (int, error)

	// InsertEventIfAbsent reports false when a row with the same content key
	// already exists; the existing row is left untouched.
	InsertEventIfAbsent(ctx context.Context, event *Event) (bool, error)
	// UpdateEventSchedule returns ErrContentKeyConflict when the new key is
	// held by another row.
	UpdateEventSchedule(ctx context.Context, id string, schedule Schedule) error
	// UpdateEventImage only replaces an empty or remote image.
	UpdateEventImage(ctx context.Context, id string, image string) (bool, error)
}

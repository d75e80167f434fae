package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const eventColumns = `id, title, description, event_date, start_date, end_date, event_day,
	category, location, image, url, source_id, content_key,
	hidden, featured, created_by, created_at, updated_at`

// eventRepository handles database operations for events
type eventRepository struct {
	db *DB
}

var _ EventRepository = (*eventRepository)(nil)

func NewEventRepository(db *DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) GetEventByContentKey(ctx context.Context, contentKey string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE content_key = $1`, contentKey)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by content key: %w", err)
	}

	return event, nil
}

func (r *eventRepository) GetEventByURL(ctx context.Context, url string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE url = $1
		ORDER BY created_at
		LIMIT 1
	`, url)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by URL: %w", err)
	}

	return event, nil
}

func (r *eventRepository) GetEventsByDay(ctx context.Context, day string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE event_day = $1
		ORDER BY created_at
	`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by day: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return events, nil
}

func (r *eventRepository) GetEventCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get event count: %w", err)
	}
	return count, nil
}

func (r *eventRepository) GetSourceEventCount(ctx context.Context, sourceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE source_id = $1", sourceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source event count: %w", err)
	}
	return count, nil
}

func (r *eventRepository) InsertEventIfAbsent(ctx context.Context, event *Event) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO events (
			id, title, description, event_date, start_date, end_date, event_day,
			category, location, image, url, source_id, content_key,
			hidden, featured, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (content_key) DO NOTHING
		RETURNING id
	`, event.ID, event.Title, nullString(event.Description),
		event.EventDate, event.StartDate, event.EndDate, event.EventDay,
		nullString(event.Category), nullString(event.Location), nullString(event.Image),
		nullString(event.URL), nullString(event.SourceID), event.ContentKey,
		event.Hidden, event.Featured, nullString(event.CreatedBy),
		event.CreatedAt, event.UpdatedAt).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	return true, nil
}

func (r *eventRepository) UpdateEventSchedule(ctx context.Context, id string, schedule Schedule) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET event_date = $2, start_date = $3, end_date = $4, event_day = $5,
		    content_key = $6, updated_at = $7
		WHERE id = $1
	`, id, schedule.EventDate, schedule.StartDate, schedule.EndDate, schedule.EventDay,
		schedule.ContentKey, time.Now().UTC())

	if isUniqueViolation(err) {
		return ErrContentKeyConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update event schedule: %w", err)
	}

	return nil
}

func (r *eventRepository) UpdateEventImage(ctx context.Context, id string, image string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET image = $2, updated_at = $3
		WHERE id = $1
		  AND (image IS NULL OR image = ''
		       OR image LIKE 'http://%' OR image LIKE 'https://%' OR image LIKE '//%')
	`, id, image, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to update event image: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var event Event
	var description, category, location, image sql.NullString
	var url, sourceID, createdBy sql.NullString

	err := row.Scan(
		&event.ID, &event.Title, &description,
		&event.EventDate, &event.StartDate, &event.EndDate, &event.EventDay,
		&category, &location, &image, &url, &sourceID, &event.ContentKey,
		&event.Hidden, &event.Featured, &createdBy, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Description = description.String
	event.Category = category.String
	event.Location = location.String
	event.Image = image.String
	event.URL = url.String
	event.SourceID = sourceID.String
	event.CreatedBy = createdBy.String

	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

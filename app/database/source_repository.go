package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const sourceColumns = `id, name, url, adapter, active, last_run_at, created_at, updated_at`

type sourceRepository struct {
	db *DB
}

var _ SourceRepository = (*sourceRepository)(nil)

func NewSourceRepository(db *DB) SourceRepository {
	return &sourceRepository{db: db}
}

// UpsertSource registers a source configuration, keeping the existing id and last run time
func (r *sourceRepository) UpsertSource(ctx context.Context, name, url, adapter string, active bool) (string, error) {
	now := time.Now().UTC()

	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (id, name, url, adapter, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			adapter = excluded.adapter,
			active = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id
	`, uuid.NewString(), name, url, adapter, active, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert source: %w", err)
	}

	return id, nil
}

func (r *sourceRepository) UpdateLastRunAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET last_run_at = $2, updated_at = $3
		WHERE id = $1
	`, id, at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update source last run time: %w", err)
	}

	return nil
}

func (r *sourceRepository) GetSource(ctx context.Context, id string) (*Source, error) {
	return r.getSource(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)
}

func (r *sourceRepository) GetSourceByName(ctx context.Context, name string) (*Source, error) {
	return r.getSource(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
}

func (r *sourceRepository) GetSources(ctx context.Context) ([]Source, error) {
	return r.listSources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
}

func (r *sourceRepository) GetActiveSources(ctx context.Context) ([]Source, error) {
	return r.listSources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active = TRUE ORDER BY name`)
}

func (r *sourceRepository) GetSourceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

func (r *sourceRepository) getSource(ctx context.Context, query string, arg string) (*Source, error) {
	source, err := scanSource(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}

	return source, nil
}

func (r *sourceRepository) listSources(ctx context.Context, query string) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func scanSource(row rowScanner) (*Source, error) {
	var source Source
	var lastRunAt sql.NullTime

	err := row.Scan(&source.ID, &source.Name, &source.URL, &source.Adapter, &source.Active,
		&lastRunAt, &source.CreatedAt, &source.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		source.LastRunAt = &lastRunAt.Time
	}

	return &source, nil
}

package database

import (
	"time"
)

type Source struct {
	ID        string // Database UUID
	Name      string // Configuration source identifier derived from filename
	URL       string // Origin URL the adapter fetches
	Adapter   string // Registered adapter identifier
	Active    bool
	LastRunAt *time.Time // Updated after every run attempt, whatever the outcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Event struct {
	ID          string
	Title       string
	Description string // May contain limited markup
	EventDate   time.Time
	StartDate   time.Time
	EndDate     time.Time
	EventDay    string // YYYY-MM-DD of EventDate, local wall clock
	Category    string
	Location    string
	Image       string // Absolute URL or local storage path
	URL         string
	SourceID    string
	ContentKey  string
	Hidden      bool
	Featured    bool
	CreatedBy   string // Set for manually authored events
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Schedule is the date triple rewritten by a date correction.
type Schedule struct {
	EventDate  time.Time
	StartDate  time.Time
	EndDate    time.Time
	EventDay   string
	ContentKey string
}

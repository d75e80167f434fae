package runner

import "github.com/google/uuid"

type State string

const (
	StateIdle                State = "idle"
	StateRunning             State = "running"
	StateCompletedOK         State = "completed_ok"
	StateCompletedWithErrors State = "completed_with_errors"
	StateFatalError          State = "fatal_error"
)

// Result is the report of one source run.
type Result struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	State           State    `json:"status"`
	DurationSeconds float64  `json:"durationSeconds"`
	EventsFound     int      `json:"eventsFound"`
	EventsNew       int      `json:"eventsNew"`
	EventsSkipped   int      `json:"eventsSkipped"`
	EventsTotal     int      `json:"eventsTotal"`
	Errors          []string `json:"errors"`
	FatalError      string   `json:"fatalError,omitempty"`
}

type Summary struct {
	SourcesExecuted int `json:"sourcesExecuted"`
	TotalNew        int `json:"totalNew"`
	TotalErrors     int `json:"totalErrors"`
}

type Batch struct {
	ID      string   `json:"id"`
	Results []Result `json:"results"`
	Summary Summary  `json:"summary"`
}

// NewBatch wraps results in a batch with a fresh id and their summary.
func NewBatch(results ...Result) Batch {
	batch := Batch{ID: uuid.NewString(), Results: append([]Result{}, results...)}
	batch.Summary = summarize(batch.Results)
	return batch
}

func summarize(results []Result) Summary {
	summary := Summary{SourcesExecuted: len(results)}
	for _, r := range results {
		summary.TotalNew += r.EventsNew
		summary.TotalErrors += len(r.Errors)
		if r.FatalError != "" {
			summary.TotalErrors++
		}
	}
	return summary
}

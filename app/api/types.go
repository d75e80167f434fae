package api

import (
	"context"
	"time"

	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/metrics"
	"github.com/lysyi3m/event-comb/app/runlog"
	"github.com/lysyi3m/event-comb/app/runner"
	"github.com/lysyi3m/event-comb/app/source"
)

type RunManager interface {
	RunSource(ctx context.Context, sourceID string) (runner.Result, error)
	RunSourceByName(ctx context.Context, name string) (runner.Result, error)
	RunAll(ctx context.Context) (runner.Batch, error)
	State(sourceID string) runner.State
}

var _ RunManager = (*runner.Manager)(nil)

type Handler struct {
	sourceRepo  database.SourceRepository
	eventRepo   database.EventRepository
	configCache *source.ConfigCache
	manager     RunManager
	sink        *runlog.Sink
	metrics     *metrics.Metrics
	runTimeout  time.Duration
}

type RunRequest struct {
	SourceID string `json:"sourceId"`
	RunAll   bool   `json:"runAll"`
}

type RunResponse struct {
	Success bool            `json:"success"`
	Results []runner.Result `json:"results"`
	Summary *runner.Summary `json:"summary,omitempty"`
	Error   string          `json:"error,omitempty"`
}

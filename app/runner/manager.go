// Package runner drives sources through the ingestion pipeline and produces
// run reports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/event-comb/app/adapter"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/ingest"
	"github.com/lysyi3m/event-comb/app/metrics"
	"github.com/lysyi3m/event-comb/app/runlog"
	"github.com/lysyi3m/event-comb/app/source"
)

const cancelledMessage = "cancelled"

var ErrSourceNotFound = errors.New("source not found")

type Manager struct {
	sourceRepo  database.SourceRepository
	eventRepo   database.EventRepository
	configCache *source.ConfigCache
	registry    *adapter.Registry
	engine      *ingest.Engine
	sink        *runlog.Sink
	metrics     *metrics.Metrics
	concurrency int

	mu     sync.Mutex
	states map[string]State
}

func NewManager(sourceRepo database.SourceRepository, eventRepo database.EventRepository,
	configCache *source.ConfigCache, registry *adapter.Registry, engine *ingest.Engine,
	sink *runlog.Sink, m *metrics.Metrics, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Manager{
		sourceRepo:  sourceRepo,
		eventRepo:   eventRepo,
		configCache: configCache,
		registry:    registry,
		engine:      engine,
		sink:        sink,
		metrics:     m,
		concurrency: concurrency,
		states:      make(map[string]State),
	}
}

// State returns the state of the last run of a source, or idle.
func (m *Manager) State(sourceID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[sourceID]; ok {
		return state
	}
	return StateIdle
}

func (m *Manager) setState(sourceID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sourceID] = state
}

// RunSource runs one source by id. The error is only set when the source
// cannot be found; run failures are reported in the Result.
func (m *Manager) RunSource(ctx context.Context, sourceID string) (Result, error) {
	src, err := m.sourceRepo.GetSource(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get source: %w", err)
	}
	if src == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}

	return m.Run(ctx, *src), nil
}

func (m *Manager) RunSourceByName(ctx context.Context, name string) (Result, error) {
	src, err := m.sourceRepo.GetSourceByName(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get source: %w", err)
	}
	if src == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}

	return m.Run(ctx, *src), nil
}

// RunAll runs every active source with at most the configured number in
// flight. Results are in completion order. When ctx ends, sources that have
// not started are left out of the batch.
func (m *Manager) RunAll(ctx context.Context) (Batch, error) {
	sources, err := m.sourceRepo.GetActiveSources(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to get active sources: %w", err)
	}

	batch := NewBatch()

	slog.Info("Batch run started", "batch_id", batch.ID, "sources", len(sources), "concurrency", m.concurrency)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	slots := make(chan struct{}, m.concurrency)

dispatch:
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		if ctx.Err() != nil {
			<-slots
			break
		}

		wg.Add(1)
		go func(src database.Source) {
			defer wg.Done()
			defer func() { <-slots }()

			result := m.Run(ctx, src)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	if len(results) < len(sources) {
		slog.Warn("Batch run cut short", "batch_id", batch.ID, "started", len(results), "sources", len(sources))
	}

	batch.Results = append(batch.Results, results...)
	batch.Summary = summarize(batch.Results)

	slog.Info("Batch run completed",
		"batch_id", batch.ID,
		"sources", batch.Summary.SourcesExecuted,
		"new", batch.Summary.TotalNew,
		"errors", batch.Summary.TotalErrors)

	return batch, nil
}

// Run executes one source through fetch and ingest. Bookkeeping (last run
// time, run log, metrics) always happens, even after ctx is cancelled.
func (m *Manager) Run(ctx context.Context, src database.Source) Result {
	start := time.Now()
	m.setState(src.ID, StateRunning)

	result := Result{
		ID:     src.ID,
		Name:   src.Name,
		State:  StateRunning,
		Errors: []string{},
	}

	if err := m.execute(ctx, src, &result); err != nil {
		result.State = StateFatalError
		result.FatalError = err.Error()
		if ctx.Err() != nil {
			result.FatalError = cancelledMessage
		}
	} else if len(result.Errors) > 0 {
		result.State = StateCompletedWithErrors
	} else {
		result.State = StateCompletedOK
	}

	result.DurationSeconds = time.Since(start).Seconds()
	m.finish(context.WithoutCancel(ctx), src, &result, time.Since(start))

	return result
}

func (m *Manager) execute(ctx context.Context, src database.Source, result *Result) error {
	before, err := m.eventRepo.GetSourceEventCount(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	result.EventsTotal = before

	sourceConfig, err := m.configCache.GetConfig(src.Name)
	if err != nil {
		return err
	}

	a, err := m.registry.Resolve(src.Adapter)
	if err != nil {
		return err
	}

	opts, err := ingest.NewOptions(src.ID, sourceConfig.Settings)
	if err != nil {
		return err
	}

	req := adapter.NewRequest(sourceConfig)
	req.URL = src.URL

	fetched, err := m.fetch(ctx, a, req, sourceConfig.Settings.GetTimeout())
	if err != nil {
		return err
	}
	result.Errors = append(result.Errors, fetched.Warnings...)

	for _, candidate := range fetched.Candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome, err := m.engine.Ingest(ctx, candidate, opts)
		result.Errors = append(result.Errors, outcome.Warnings...)

		switch {
		case errors.Is(err, ingest.ErrMissingTitle), errors.Is(err, ingest.ErrMissingStart):
			slog.Debug("Candidate dropped", "source", src.Name, "title", candidate.Title, "reason", err)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result.Errors = append(result.Errors, fmt.Sprintf("item %q: %v", candidate.Title, err))
			continue
		}

		if outcome.Outcome == ingest.OutcomeNew {
			result.EventsNew++
		} else {
			result.EventsSkipped++
		}
	}

	after, err := m.eventRepo.GetSourceEventCount(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}

	result.EventsFound = len(fetched.Candidates)
	result.EventsTotal = after

	// Rows may also appear from a concurrent run of the same source.
	if delta := after - before; delta != result.EventsNew {
		slog.Warn("Event count mismatch",
			"source", src.Name,
			"reported_new", result.EventsNew,
			"delta", delta)
		result.EventsFound = max(result.EventsFound, delta)
	}

	return nil
}

func (m *Manager) fetch(ctx context.Context, a adapter.Adapter, req adapter.Request, timeout time.Duration) (*adapter.Result, error) {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fetched, err := a.Fetch(fetchCtx, req)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		fetched = &adapter.Result{}
	}
	return fetched, nil
}

func (m *Manager) finish(ctx context.Context, src database.Source, result *Result, duration time.Duration) {
	m.setState(src.ID, result.State)

	if err := m.sourceRepo.UpdateLastRunAt(ctx, src.ID, time.Now()); err != nil {
		slog.Error("Failed to update last run time", "source", src.Name, "error", err)
	}

	for _, message := range result.Errors {
		if err := m.sink.Error(src.Name, message); err != nil {
			slog.Error("Failed to write run log", "source", src.Name, "error", err)
		}
	}

	var err error
	if result.State == StateFatalError {
		err = m.sink.Fatal(src.Name, result.FatalError)
	} else {
		err = m.sink.OK(src.Name, result.EventsFound, result.EventsNew, result.EventsSkipped, result.EventsTotal, duration)
	}
	if err != nil {
		slog.Error("Failed to write run log", "source", src.Name, "error", err)
	}

	m.metrics.ObserveRun(src.Name, string(result.State), duration)
	m.metrics.AddEvents(src.Name, result.EventsNew, result.EventsSkipped)

	if result.State == StateFatalError {
		slog.Error("Source run failed", "source", src.Name, "error", result.FatalError)
		return
	}

	slog.Info("Source run completed",
		"source", src.Name,
		"status", string(result.State),
		"found", result.EventsFound,
		"new", result.EventsNew,
		"skipped", result.EventsSkipped,
		"total", result.EventsTotal,
		"errors", len(result.Errors),
		"duration", duration.String())
}

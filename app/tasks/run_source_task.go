package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/event-comb/app/runner"
)

type RunSourceTask struct {
	Task
	runner SourceRunner
}

func NewRunSourceTask(sourceName string, sourceRunner SourceRunner) *RunSourceTask {
	return &RunSourceTask{
		Task:   NewTask(TaskTypeRunSource, sourceName),
		runner: sourceRunner,
	}
}

// Execute fails only on a fatal run so that the scheduler retries it; item
// level errors are already in the run log.
func (t *RunSourceTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result, err := t.runner.RunSourceByName(ctx, t.SourceName)
	if err != nil {
		return fmt.Errorf("failed to run source: %w", err)
	}

	if result.State == runner.StateFatalError {
		return fmt.Errorf("source run failed: %s", result.FatalError)
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"source", t.SourceName,
		"status", string(result.State),
		"new", result.EventsNew,
		"duration", t.GetDuration())

	return nil
}

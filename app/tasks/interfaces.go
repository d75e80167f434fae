package tasks

import (
	"context"

	"github.com/lysyi3m/event-comb/app/runner"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application to run due sources in the background.
// Example usage:
//
//	scheduler := NewScheduler(sourceRepo, configCache, manager)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// SourceRunner runs a single source and reports the outcome.
type SourceRunner interface {
	RunSourceByName(ctx context.Context, name string) (runner.Result, error)
}

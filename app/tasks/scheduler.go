package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/event-comb/app/cfg"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/source"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	sourceRepo  database.SourceRepository
	configCache *source.ConfigCache
	runner      SourceRunner
	interval    time.Duration
	taskTimeout time.Duration
	workerCount int
	now         func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
	mu          sync.Mutex
	pending     map[string]bool
}

func NewScheduler(sourceRepo database.SourceRepository, configCache *source.ConfigCache,
	sourceRunner SourceRunner) TaskSchedulerInterface {
	cfg := cfg.Get()

	return newScheduler(sourceRepo, configCache, sourceRunner,
		cfg.GetSchedulerInterval(), cfg.GetRunTimeout(), cfg.WorkerCount)
}

func newScheduler(sourceRepo database.SourceRepository, configCache *source.ConfigCache,
	sourceRunner SourceRunner, interval, taskTimeout time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		sourceRepo:  sourceRepo,
		configCache: configCache,
		runner:      sourceRunner,
		interval:    interval,
		taskTimeout: taskTimeout,
		workerCount: workerCount,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
		pending:     make(map[string]bool),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueDueSources()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueDueSources()
			}
		}
	}()
}

// Stop leaves the queue open so a pending retry can never send on a closed
// channel; workers exit through the context.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueDueSources queues every active source whose refresh interval has
// elapsed since its last run. A source already queued or running is skipped.
func (s *Scheduler) enqueueDueSources() {
	sources, err := s.sourceRepo.GetActiveSources(s.ctx)
	if err != nil {
		slog.Warn("Failed to get active sources", "error", err)
		return
	}
	if len(sources) == 0 {
		slog.Debug("No active sources found")
		return
	}

	now := s.now()
	for _, src := range sources {
		sourceConfig, err := s.configCache.GetConfig(src.Name)
		if err != nil {
			slog.Warn("Source has no configuration, skipping", "source", src.Name)
			continue
		}

		if !isDue(src.LastRunAt, sourceConfig.Settings.GetRefreshInterval(), now) {
			slog.Debug("Source not due for refresh yet", "source", src.Name, "last_run_at", src.LastRunAt)
			continue
		}

		if !s.markPending(src.Name) {
			slog.Debug("Source already queued", "source", src.Name)
			continue
		}

		if err := s.EnqueueTask(NewRunSourceTask(src.Name, s.runner)); err != nil {
			s.clearPending(src.Name)
			slog.Warn("Failed to enqueue RunSourceTask", "source", src.Name, "error", err)
		}
	}
}

func isDue(lastRunAt *time.Time, refreshInterval time.Duration, now time.Time) bool {
	if lastRunAt == nil {
		return true
	}
	return !lastRunAt.Add(refreshInterval).After(now)
}

func (s *Scheduler) markPending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[name] {
		return false
	}
	s.pending[name] = true
	return true
}

func (s *Scheduler) clearPending(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, name)
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.clearPending(task.GetSourceName())
		return
	}

	slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

	if !task.CanRetry() {
		s.clearPending(task.GetSourceName())
		slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		return
	}

	task.IncrementRetryCount()
	delay := retryDelay(task.GetRetryCount())

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSourceName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", delay.String())

	go func() {
		select {
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		case <-time.After(delay):
		}

		if retryErr := s.EnqueueTask(task); retryErr != nil {
			s.clearPending(task.GetSourceName())
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}

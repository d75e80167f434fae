package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/event-comb/app/adapter"
	"github.com/lysyi3m/event-comb/app/api"
	"github.com/lysyi3m/event-comb/app/cfg"
	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/images"
	"github.com/lysyi3m/event-comb/app/ingest"
	"github.com/lysyi3m/event-comb/app/metrics"
	"github.com/lysyi3m/event-comb/app/runlog"
	"github.com/lysyi3m/event-comb/app/runner"
	"github.com/lysyi3m/event-comb/app/source"
	"github.com/lysyi3m/event-comb/app/tasks"
)

func main() {
	config, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if config == nil {
		// Help was shown
		return
	}

	setupLogger(config.Debug)

	if err := run(config); err != nil {
		slog.Error("Event Comb stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(config *cfg.Cfg) error {
	slog.Info("Starting Event Comb", "version", cfg.GetVersion(), "timezone", time.Local.String())

	db, err := database.NewConnection(config.DBDriver, config.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "driver", db.Driver, "schema_version", version, "dirty", dirty)

	fetcher := adapter.NewFetcher(nil, config.UserAgent)
	registry := adapter.NewDefaultRegistry(fetcher)

	configCache := source.NewConfigCache(config.SourcesDir, registry)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load source configurations: %w", err)
	}

	sourceRepo := database.NewSourceRepository(db)
	eventRepo := database.NewEventRepository(db)

	synced, err := source.Sync(context.Background(), configCache, sourceRepo)
	if err != nil {
		return fmt.Errorf("failed to sync source configurations: %w", err)
	}
	slog.Info("Source configurations synced", "count", synced)

	sink, err := runlog.NewSink(config.LogFile)
	if err != nil {
		return err
	}

	appMetrics := metrics.New()
	imageCache := images.NewCache(config.UploadsDir, fetcher.Client(), config.UserAgent, appMetrics)
	engine := ingest.NewEngine(eventRepo, ingest.NewNormalizer(time.Local), imageCache, appMetrics)
	manager := runner.NewManager(sourceRepo, eventRepo, configCache, registry, engine, sink, appMetrics, config.RunConcurrency)

	if config.RunOnce {
		return runOnce(manager, config)
	}

	return serve(config, configCache, sourceRepo, eventRepo, manager, sink, appMetrics)
}

func runOnce(manager *runner.Manager, config *cfg.Cfg) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.GetRunTimeout())
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var batch runner.Batch
	if config.SourceName != "" {
		result, err := manager.RunSourceByName(ctx, config.SourceName)
		if err != nil {
			return err
		}
		batch = runner.NewBatch(result)
	} else {
		var err error
		batch, err = manager.RunAll(ctx)
		if err != nil {
			return err
		}
	}

	if err := runner.WriteTable(os.Stdout, batch); err != nil {
		return fmt.Errorf("failed to print report: %w", err)
	}

	if failed := countFatal(batch); failed > 0 {
		return fmt.Errorf("%d of %d sources failed", failed, len(batch.Results))
	}
	return nil
}

func countFatal(batch runner.Batch) int {
	count := 0
	for _, result := range batch.Results {
		if result.State == runner.StateFatalError {
			count++
		}
	}
	return count
}

func serve(config *cfg.Cfg, configCache *source.ConfigCache, sourceRepo database.SourceRepository,
	eventRepo database.EventRepository, manager *runner.Manager, sink *runlog.Sink, appMetrics *metrics.Metrics) error {
	if config.SchedulerInterval > 0 {
		slog.Info("Starting background scheduler",
			"workers", config.WorkerCount,
			"interval", config.GetSchedulerInterval().String())
		scheduler := tasks.NewScheduler(sourceRepo, configCache, manager)
		scheduler.Start()
		defer scheduler.Stop()
	} else {
		slog.Info("Background scheduler disabled")
	}

	handler := api.NewHandler(configCache, sourceRepo, eventRepo, manager, sink, appMetrics, config.GetRunTimeout())
	server := api.NewServer(handler, config.APIAccessKey)

	// Runs triggered over HTTP can take up to the run timeout.
	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: config.GetRunTimeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case serveErr = <-serverErrChan:
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	return serveErr
}

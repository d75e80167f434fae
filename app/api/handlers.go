package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/metrics"
	"github.com/lysyi3m/event-comb/app/runlog"
	"github.com/lysyi3m/event-comb/app/runner"
	"github.com/lysyi3m/event-comb/app/source"
)

const (
	defaultLogLines = 100
	maxLogLines     = 1000
)

func NewHandler(configCache *source.ConfigCache, sourceRepo database.SourceRepository,
	eventRepo database.EventRepository, manager RunManager, sink *runlog.Sink,
	m *metrics.Metrics, runTimeout time.Duration) *Handler {
	return &Handler{
		sourceRepo:  sourceRepo,
		eventRepo:   eventRepo,
		configCache: configCache,
		manager:     manager,
		sink:        sink,
		metrics:     m,
		runTimeout:  runTimeout,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if sourceCount, err := h.sourceRepo.GetSourceCount(c.Request.Context()); err == nil {
		health["sources"] = sourceCount
	}

	if eventCount, err := h.eventRepo.GetEventCount(c.Request.Context()); err == nil {
		health["events"] = eventCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

// APITriggerRun runs one source or all active sources and answers with the
// run report. The run is detached from the request so a client disconnect
// does not abort it half way.
func (h *Handler) APITriggerRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, RunResponse{Results: []runner.Result{}, Error: "Invalid request body"})
		return
	}

	if !req.RunAll && req.SourceID == "" {
		c.JSON(http.StatusBadRequest, RunResponse{Results: []runner.Result{}, Error: "Provide sourceId or runAll"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.runTimeout)
	defer cancel()

	if req.RunAll {
		batch, err := h.manager.RunAll(ctx)
		if err != nil {
			slog.Error("Batch run failed", "error", err)
			c.JSON(http.StatusInternalServerError, RunResponse{Results: []runner.Result{}, Error: err.Error()})
			return
		}

		c.JSON(http.StatusOK, RunResponse{
			Success: true,
			Results: batch.Results,
			Summary: &batch.Summary,
		})
		return
	}

	result, err := h.manager.RunSource(ctx, req.SourceID)
	if errors.Is(err, runner.ErrSourceNotFound) {
		result, err = h.manager.RunSourceByName(ctx, req.SourceID)
	}
	if errors.Is(err, runner.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, RunResponse{Results: []runner.Result{}, Error: "Source not found"})
		return
	}
	if err != nil {
		slog.Error("Source run failed", "source", req.SourceID, "error", err)
		c.JSON(http.StatusInternalServerError, RunResponse{Results: []runner.Result{}, Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, RunResponse{
		Success: result.State != runner.StateFatalError,
		Results: []runner.Result{result},
		Error:   result.FatalError,
	})
}

func (h *Handler) APIListSources(c *gin.Context) {
	ctx := c.Request.Context()

	dbSources, err := h.sourceRepo.GetSources(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	sources := make([]map[string]interface{}, 0, len(dbSources))
	for _, src := range dbSources {
		sources = append(sources, h.sourceInfo(ctx, src))
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

func (h *Handler) APIGetSource(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	src, err := h.sourceRepo.GetSource(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if src == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	details := h.sourceInfo(ctx, *src)
	details["created_at"] = src.CreatedAt
	details["updated_at"] = src.UpdatedAt

	if sourceConfig, err := h.configCache.GetConfig(src.Name); err == nil {
		details["settings"] = map[string]interface{}{
			"timeout":             sourceConfig.Settings.GetTimeout().String(),
			"refresh_interval":    sourceConfig.Settings.GetRefreshInterval().String(),
			"default_time":        sourceConfig.Settings.DefaultTime,
			"cache_images":        sourceConfig.Settings.ShouldCacheImages(),
			"extract_description": sourceConfig.Settings.ExtractDescription,
		}
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) sourceInfo(ctx context.Context, src database.Source) map[string]interface{} {
	info := map[string]interface{}{
		"id":          src.ID,
		"name":        src.Name,
		"url":         src.URL,
		"adapter":     src.Adapter,
		"active":      src.Active,
		"last_run_at": src.LastRunAt,
		"status":      h.manager.State(src.ID),
	}

	if eventCount, err := h.eventRepo.GetSourceEventCount(ctx, src.ID); err == nil {
		info["event_count"] = eventCount
	}

	return info
}

// APIReloadSource re-reads one source file and stores the result.
func (h *Handler) APIReloadSource(c *gin.Context) {
	name := c.Param("name")

	sourceConfig, err := h.configCache.LoadConfig(name)
	if err != nil {
		slog.Error("Error reloading configuration", "source", name, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to reload configuration",
			"details": err.Error(),
		})
		return
	}

	if err := source.SyncOne(c.Request.Context(), sourceConfig, h.sourceRepo); err != nil {
		slog.Error("Error syncing configuration", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to sync configuration",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Configuration reloaded",
		"source": gin.H{
			"name":    sourceConfig.Name,
			"url":     sourceConfig.URL,
			"adapter": sourceConfig.Adapter,
			"active":  sourceConfig.IsActive(),
		},
	})
}

func (h *Handler) APIGetLog(c *gin.Context) {
	lines := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a positive integer"})
			return
		}
		lines = min(n, maxLogLines)
	}

	entries, err := h.sink.Tail(lines)
	if err != nil {
		slog.Error("Failed to read run log", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read run log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lines": entries,
		"total": len(entries),
	})
}

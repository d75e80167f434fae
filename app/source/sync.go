package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/event-comb/app/database"
)

// Sync registers every cached configuration in the sources table.
func Sync(ctx context.Context, cache *ConfigCache, sourceRepo database.SourceRepository) (int, error) {
	registered := 0
	for _, sourceConfig := range cache.GetConfigs() {
		if err := SyncOne(ctx, sourceConfig, sourceRepo); err != nil {
			return registered, err
		}
		registered++
	}
	return registered, nil
}

func SyncOne(ctx context.Context, sourceConfig *Config, sourceRepo database.SourceRepository) error {
	id, err := sourceRepo.UpsertSource(ctx, sourceConfig.Name, sourceConfig.URL, sourceConfig.Adapter, sourceConfig.IsActive())
	if err != nil {
		return fmt.Errorf("failed to sync source %s: %w", sourceConfig.Name, err)
	}

	slog.Debug("Source registered", "source", sourceConfig.Name, "id", id, "adapter", sourceConfig.Adapter, "active", sourceConfig.IsActive())
	return nil
}

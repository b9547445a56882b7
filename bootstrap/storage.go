package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"warden/config"
	"warden/storage"

	"go.uber.org/zap"
)

// StorageComponents bundles the stores selected by configuration. The
// SQLite handle is nil when the memory backend is active.
type StorageComponents struct {
	Events      storage.EventStore
	Quarantines storage.QuarantineStore
	Provenance  storage.ProvenanceStore
	SQLite      *storage.SQLiteStore
}

// InitStorage builds the stores for the configured backend. The Redis
// quarantine store, when enabled, overrides the backend's own
// quarantine store so multiple instances share quarantine state.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}

	switch cfg.Storage.Backend {
	case "sqlite":
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		components.SQLite = store
		components.Events = store.Events
		components.Quarantines = store.Quarantines
		components.Provenance = store.Provenance
		sugar.Infow("SQLite storage initialized", "path", cfg.Storage.SQLitePath)

	case "memory", "":
		components.Events = storage.NewMemoryEventStore(cfg.Storage.MaxEvents, sugar)
		components.Quarantines = storage.NewMemoryQuarantineStore()
		provStore, err := storage.NewMemoryProvenanceStore(cfg.Storage.MaxProvenance)
		if err != nil {
			return nil, fmt.Errorf("failed to create provenance store: %w", err)
		}
		components.Provenance = provStore
		sugar.Infow("In-memory storage initialized", "max_events", cfg.Storage.MaxEvents)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Storage.Redis.Enabled {
		redisStore, err := storage.NewRedisQuarantineStore(
			ctx, cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Quarantines = redisStore
		sugar.Infow("Redis quarantine store initialized", "addr", cfg.Storage.Redis.Addr)
	}

	return components, nil
}

// Close releases backend resources.
func (s *StorageComponents) Close() error {
	if s.SQLite != nil {
		return s.SQLite.Close()
	}
	return nil
}

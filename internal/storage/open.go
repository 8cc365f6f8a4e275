package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qxebear/upload-pics/internal/config"
	"github.com/qxebear/upload-pics/internal/db"
)

// Open connects the engine selected by cfg.StoreDriver. The caller owns the
// returned Store and must Close it.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	slog.Info("opening store", "driver", cfg.StoreDriver)

	switch cfg.StoreDriver {
	case config.DriverRedis:
		return ConnectRedis(ctx, cfg.RedisURL)

	case config.DriverBadger:
		return OpenBadger(cfg.BadgerPath)

	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
		return NewPostgresStore(pool), nil

	case config.DriverMinio:
		return NewMinioStore(ctx,
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.StorageBucket,
			cfg.StorageUseSSL,
		)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Package store builds the snapshot store selected by configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/chronocast/cmd/forecaster/config"
	"github.com/HatiCode/chronocast/pkg/storage"
)

// New returns a memory or redis store. Close redis stores when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case "memory", "":
		logger.Info("using in-memory storage")
		return storage.NewMemoryStore(), nil
	case "redis":
		logger.Info("using redis storage", "addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.RedisTTL)
		rs, err := storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.RedisTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be memory or redis)", cfg.Storage)
	}
}

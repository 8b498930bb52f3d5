package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"revenue-analytics/internal/config"
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.StorageConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse storage dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds the snapshot backend selected by cfg.Driver. The returned close
// func releases backend resources and is never nil.
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (Snapshots, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemorySnapshots(), noop, nil
	case config.DriverFile, "":
		store, err := NewFileSnapshots(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case config.DriverSQLite:
		store, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		store := NewPostgresSnapshots(pool, cfg.AdvisoryLockKey, logger)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

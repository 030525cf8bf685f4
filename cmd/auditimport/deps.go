package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/auditimport/internal/config"
	"github.com/JonMunkholm/auditimport/internal/core"
	"github.com/JonMunkholm/auditimport/internal/objectstore"
	"github.com/JonMunkholm/auditimport/internal/store/memory"
	"github.com/JonMunkholm/auditimport/internal/store/postgres"
)

// backend is the storage side of the service.
type backend struct {
	store  core.Store
	audit  core.AuditSink
	health func(context.Context) error
	close  func()
}

// connectDB opens and pings a pool configured from cfg.
func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// openBackend returns the configured store. The memory backend keeps
// everything in process and is meant for local trials and demos.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if strings.EqualFold(cfg.Database.Backend, "memory") {
		slog.Warn("using in-memory store; jobs and observations are lost on exit")
		return &backend{store: memory.New(), audit: core.LogAuditSink{}, close: func() {}}, nil
	}

	pool, err := connectDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("migrations applied", "version", applied)
	}

	store := postgres.New(pool)
	return &backend{
		store:  store,
		audit:  postgres.NewAuditSink(pool),
		health: store.Ping,
		close:  pool.Close,
	}, nil
}

// openObjects returns the configured file store.
func openObjects(ctx context.Context, cfg config.StorageConfig) (core.ObjectStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3":
		return objectstore.NewS3(ctx, objectstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	case "memory":
		return objectstore.NewMemory(), nil
	default:
		return objectstore.NewLocal(cfg.LocalDir)
	}
}

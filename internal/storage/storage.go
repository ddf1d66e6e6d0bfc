// Package storage opens the configured user store backend.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/matcha/internal/config"
	"github.com/sakif/matcha/internal/repository"
	"github.com/sakif/matcha/internal/repository/postgres"
	"github.com/sakif/matcha/internal/repository/sqlite"
)

// Backend is an open user store. The caller owns it and must Close it.
type Backend interface {
	repository.UserRepository
	repository.Pinger
	Close() error
}

// Open connects to the backend selected by cfg.DBDriver and brings its
// schema up to date.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return openSQLite(cfg.DBPath)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.DBDriver)
	}
}

func openSQLite(path string) (Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating database directory: %w", err)
		}
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return db, nil
}

// pgBackend ties a UserStore to the pool it runs on, so closing the backend
// closes the pool.
type pgBackend struct {
	*postgres.UserStore
	pool *pgxpool.Pool
}

func (b *pgBackend) Close() error {
	b.pool.Close()
	return nil
}

func openPostgres(ctx context.Context, dsn string) (Backend, error) {
	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &pgBackend{UserStore: postgres.NewUserStore(pool), pool: pool}, nil
}

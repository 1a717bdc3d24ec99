// Package db opens the PostgreSQL pool and applies embedded migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/chatapp/auth-service/internal/config"
	"github.com/chatapp/auth-service/migrations"
)

// Open connects to Postgres with the configured pool limits and verifies the
// connection.
func Open(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	pool, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded migrations up to the latest version.
func Migrate(ctx context.Context, pool *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, pool, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

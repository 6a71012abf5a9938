//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

// zerologGooseLogger adapts the global logger to the goose.Logger interface.
type zerologGooseLogger struct{}

func (zerologGooseLogger) Fatalf(format string, v ...any) {
	logging.Error().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (zerologGooseLogger) Printf(format string, v ...any) {
	logging.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// withGoose opens a database/sql handle on the pool and configures goose.
func withGoose(pool *pgxpool.Pool, fn func(db *sql.DB) error) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetLogger(zerologGooseLogger{})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}

// Migrate creates or upgrades the dimension and metadata tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	logging.Info().Msg("Running schema migrations")
	return withGoose(pool, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		return nil
	})
}

// ResetMigrations rolls every migration back, dropping the dimension
// tables together with all issued keys.
func ResetMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	logging.Warn().Msg("Dropping dimension and metadata tables")
	return withGoose(pool, func(db *sql.DB) error {
		if err := goose.ResetContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("failed to reset migrations: %w", err)
		}
		return nil
	})
}

// SchemaVersion returns the current migration version, 0 when none ran.
func SchemaVersion(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	var version int64
	err := withGoose(pool, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

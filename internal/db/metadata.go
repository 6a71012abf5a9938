//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
	"github.com/pgEdge/pgedge-dwh/pkg/version"
)

const (
	metadataTable = "dwh_metadata"
	runLogTable   = "dwh_run_log"

	// StrategyKey records the duplicate resolution strategy of the warehouse.
	StrategyKey = "strategy"
)

// ErrStrategyMismatch is returned when a run asks for a different strategy
// than the one the warehouse was first resolved with.
var ErrStrategyMismatch = errors.New("strategy differs from the one recorded for this warehouse")

// SaveMetadata saves initialization metadata to the database.
func SaveMetadata(ctx context.Context, pool *pgxpool.Pool, extra map[string]string) error {
	metadata := map[string]string{
		"version":        version.Short(),
		"initialized_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	for key, value := range metadata {
		_, err := pool.Exec(ctx, `
            INSERT INTO dwh_metadata (key, value) VALUES ($1, $2)
            ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
        `, key, value)
		if err != nil {
			return fmt.Errorf("failed to save metadata %s: %w", key, err)
		}
	}

	logging.Debug().
		Int("keys", len(metadata)).
		Msg("Saved metadata")

	return nil
}

// GetMetadataValue retrieves a single metadata value by key.
func GetMetadataValue(ctx context.Context, pool *pgxpool.Pool, key string) (string, error) {
	var value string
	err := pool.QueryRow(ctx, `
        SELECT value FROM dwh_metadata WHERE key = $1
    `, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetAllMetadata retrieves all metadata as a map.
func GetAllMetadata(ctx context.Context, pool *pgxpool.Pool) (map[string]string, error) {
	rows, err := pool.Query(ctx, `SELECT key, value FROM dwh_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metadata := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		metadata[key] = value
	}

	return metadata, rows.Err()
}

// MetadataExists checks if the metadata table exists.
func MetadataExists(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT FROM information_schema.tables
            WHERE table_name = $1
        )
    `, metadataTable).Scan(&exists)
	return exists, err
}

// EnsureStrategy records strategy on first use and refuses any other
// strategy afterwards. Surrogate keys and renamed ids cannot coexist on the
// same staging data.
func EnsureStrategy(ctx context.Context, pool *pgxpool.Pool, strategy string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialise first runs so two processes cannot record different values.
	if _, err := tx.Exec(ctx, "LOCK TABLE dwh_metadata IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return fmt.Errorf("failed to lock metadata: %w", err)
	}

	var recorded string
	err = tx.QueryRow(ctx, `SELECT value FROM dwh_metadata WHERE key = $1`, StrategyKey).Scan(&recorded)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, `INSERT INTO dwh_metadata (key, value) VALUES ($1, $2)`,
			StrategyKey, strategy); err != nil {
			return fmt.Errorf("failed to record strategy: %w", err)
		}
		logging.Info().Str("strategy", strategy).Msg("Recorded resolution strategy")
	case err != nil:
		return fmt.Errorf("failed to read strategy: %w", err)
	case recorded != strategy:
		return fmt.Errorf("%w: recorded %q, requested %q", ErrStrategyMismatch, recorded, strategy)
	}

	return tx.Commit(ctx)
}

// RunRecord is one row of the run log.
type RunRecord struct {
	RunID          string
	Entity         string
	Strategy       string
	DryRun         bool
	StartedAt      time.Time
	FinishedAt     time.Time
	KeysIssued     int
	WindowsUpdated int
	Rejected       int
	Unmatched      int
	Resolved       int
	Unresolved     int
	IDsRenamed     int
	Error          *string
}

// RecordRun appends an entity report to the run log. runErr is stored when
// the entity failed.
func RecordRun(ctx context.Context, pool *pgxpool.Pool, report *scd.Report, runErr error) error {
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(runLogTable)
	ib.Cols("run_id", "entity", "strategy", "dry_run", "started_at", "finished_at",
		"staging_rows", "versions", "keys_issued", "windows_updated", "rejected",
		"unmatched", "resolved", "unresolved", "ids_renamed", "error")
	ib.Values(report.RunID, report.Entity, report.Strategy, report.DryRun,
		report.StartedAt, report.FinishedAt, report.StagingRows, report.Versions,
		report.KeysIssued, report.WindowsUpdated, report.Rejected, report.Unmatched,
		report.Resolved(), report.Unresolved(), report.IDsRenamed, errText)
	query, args := ib.Build()

	if _, err := pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record run of %s: %w", report.Entity, err)
	}
	return nil
}

// LastRuns returns the latest run log row of every entity.
func LastRuns(ctx context.Context, pool *pgxpool.Pool) ([]RunRecord, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("DISTINCT ON (entity) run_id::text", "entity", "strategy", "dry_run",
		"started_at", "finished_at", "keys_issued", "windows_updated", "rejected",
		"unmatched", "resolved", "unresolved", "ids_renamed", "error")
	sb.From(runLogTable)
	sb.OrderBy("entity", "finished_at DESC")
	query, args := sb.Build()

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Entity, &r.Strategy, &r.DryRun, &r.StartedAt,
			&r.FinishedAt, &r.KeysIssued, &r.WindowsUpdated, &r.Rejected, &r.Unmatched,
			&r.Resolved, &r.Unresolved, &r.IDsRenamed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run log: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

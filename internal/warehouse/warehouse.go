//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package warehouse is the PostgreSQL side of the resolver: it reads
// staging snapshots, owns the dimension tables and writes keys back, all
// inside one transaction per entity.
package warehouse

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

// DB is satisfied by both *pgxpool.Pool and *pgx.Conn.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Warehouse opens resolver sessions on a PostgreSQL database.
type Warehouse struct {
	db DB
}

var _ scd.Beginner = (*Warehouse)(nil)

// New creates a warehouse on top of a pool or connection.
func New(db DB) *Warehouse {
	return &Warehouse{db: db}
}

// Begin starts a transaction and wraps it in a session.
func (w *Warehouse) Begin(ctx context.Context) (scd.Session, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Session{tx: tx, missing: make(map[string]bool)}, nil
}

// DimensionStats summarises one dimension table.
type DimensionStats struct {
	Entity     string
	Table      string
	Exists     bool
	Rows       int64
	Current    int64
	NaturalIDs int64
	// MultiCurrent counts natural ids with more than one current row.
	MultiCurrent int64
}

// Stats reads the row counts of an entity's dimension table.
func (w *Warehouse) Stats(ctx context.Context, cfg scd.EntityConfig) (DimensionStats, error) {
	stats := DimensionStats{Entity: cfg.Name, Table: cfg.DimensionTable}

	exists, err := tableExists(ctx, w.db, cfg.DimensionTable)
	if err != nil {
		return stats, err
	}
	if !exists {
		return stats, nil
	}
	stats.Exists = true

	src := ident(cfg.SourceColumn())
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		"count(*)",
		"count(*) FILTER (WHERE is_current)",
		fmt.Sprintf("count(DISTINCT %s)", src),
	)
	sb.From(ident(cfg.DimensionTable))
	query, args := sb.Build()
	if err := w.db.QueryRow(ctx, query, args...).Scan(&stats.Rows, &stats.Current, &stats.NaturalIDs); err != nil {
		return stats, fmt.Errorf("failed to count %s: %w", cfg.DimensionTable, err)
	}

	inner := sqlbuilder.PostgreSQL.NewSelectBuilder()
	inner.Select(src)
	inner.From(ident(cfg.DimensionTable))
	inner.Where("is_current")
	inner.GroupBy(src)
	inner.Having("count(*) > 1")

	outer := sqlbuilder.PostgreSQL.NewSelectBuilder()
	outer.Select("count(*)")
	outer.From(outer.BuilderAs(inner, "multi"))
	query, args = outer.Build()
	if err := w.db.QueryRow(ctx, query, args...).Scan(&stats.MultiCurrent); err != nil {
		return stats, fmt.Errorf("failed to check current rows of %s: %w", cfg.DimensionTable, err)
	}

	return stats, nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func tableExists(ctx context.Context, q queryer, table string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", ident(table)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return exists, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

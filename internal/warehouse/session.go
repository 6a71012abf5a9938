//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

// LockPrefix namespaces the advisory locks taken per entity.
const LockPrefix = "pgedge-dwh:"

// Session is one entity run on a single transaction.
type Session struct {
	tx pgx.Tx

	// missing holds optional tables that do not exist; reads of them
	// return nothing and writes are skipped.
	missing map[string]bool
	temp    int
}

var _ scd.Session = (*Session)(nil)

// Prepare takes the entity's advisory lock and adds the key columns the
// resolver writes. The staging and dimension tables must exist; dependent
// tables that are absent are skipped with a warning.
func (s *Session) Prepare(ctx context.Context, cfg scd.EntityConfig) error {
	if _, err := s.tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", LockPrefix+cfg.Name); err != nil {
		return fmt.Errorf("failed to lock entity %s: %w", cfg.Name, err)
	}

	for _, required := range []string{cfg.StagingTable, cfg.DimensionTable} {
		exists, err := tableExists(ctx, s.tx, required)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("table %s does not exist; run init first", required)
		}
	}

	if err := s.addColumn(ctx, cfg.StagingTable, cfg.KeyColumn, "BIGINT"); err != nil {
		return err
	}
	if cfg.DuplicateColumn != "" {
		if err := s.addColumn(ctx, cfg.StagingTable, cfg.DuplicateColumn, "BOOLEAN DEFAULT FALSE"); err != nil {
			return err
		}
	}

	for _, child := range cfg.Children {
		tables := []string{child.Table}
		if child.Via != nil {
			tables = append(tables, child.Via.Table)
		}
		for _, table := range tables {
			exists, err := tableExists(ctx, s.tx, table)
			if err != nil {
				return err
			}
			if !exists {
				s.missing[table] = true
				logging.Warn().
					Str("entity", cfg.Name).
					Str("table", table).
					Msg("Dependent table does not exist; skipping")
			}
		}
		if s.missing[child.Table] {
			continue
		}
		if err := s.addColumn(ctx, child.Table, child.KeyColumn, "BIGINT"); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) addColumn(ctx context.Context, table, column, typ string) error {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", ident(table), ident(column), typ)
	if _, err := s.tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column, err)
	}
	return nil
}

// LoadSnapshot reads the staging rows, every dependent table and the
// sibling tables used by two-hop children.
func (s *Session) LoadSnapshot(ctx context.Context, cfg scd.EntityConfig) (*scd.Snapshot, error) {
	snap := &scd.Snapshot{
		Children: make(map[string][]scd.ChildRow),
		Siblings: make(map[string]map[string]time.Time),
	}

	records, err := s.loadRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	snap.Records = records

	for _, child := range cfg.Children {
		if s.missing[child.Table] {
			continue
		}
		rows, err := s.loadChildren(ctx, child)
		if err != nil {
			return nil, err
		}
		snap.Children[child.Table] = rows

		if child.Via == nil {
			continue
		}
		if _, ok := snap.Siblings[child.Via.Table]; ok || s.missing[child.Via.Table] {
			continue
		}
		siblings, err := s.loadSiblings(ctx, *child.Via)
		if err != nil {
			return nil, err
		}
		snap.Siblings[child.Via.Table] = siblings
	}

	return snap, nil
}

func (s *Session) loadRecords(ctx context.Context, cfg scd.EntityConfig) ([]scd.StagingRecord, error) {
	dup := "FALSE"
	if cfg.DuplicateColumn != "" {
		dup = fmt.Sprintf("COALESCE(%s, FALSE)", ident(cfg.DuplicateColumn))
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		ident(cfg.IDColumn)+"::text",
		ident(cfg.NameColumn)+"::text",
		ident(cfg.TimestampColumn),
		dup,
	)
	sb.From(ident(cfg.StagingTable))
	sb.OrderBy(ident(cfg.IDColumn), ident(cfg.TimestampColumn))
	query, args := sb.Build()

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.StagingTable, err)
	}
	defer rows.Close()

	var records []scd.StagingRecord
	for rows.Next() {
		var id, name *string
		var created *time.Time
		var rec scd.StagingRecord
		if err := rows.Scan(&id, &name, &created, &rec.PossibleDuplicate); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", cfg.StagingTable, err)
		}
		rec.NaturalID = deref(id)
		rec.Name = deref(name)
		if created != nil {
			rec.CreatedAt = created.UTC()
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", cfg.StagingTable, err)
	}
	return records, nil
}

func (s *Session) loadChildren(ctx context.Context, child scd.ChildConfig) ([]scd.ChildRow, error) {
	cols := make([]string, 0, len(child.RowKey)+4)
	for _, c := range child.RowKey {
		cols = append(cols, ident(c))
	}
	cols = append(cols, ident(child.IDColumn)+"::text")

	nameIdx, eventIdx, viaIdx := -1, -1, -1
	switch child.ResolveStrategy() {
	case scd.NameMatch:
		nameIdx = len(cols)
		cols = append(cols, ident(child.NameColumn)+"::text")
	case scd.WindowMatch:
		eventIdx = len(cols)
		cols = append(cols, ident(child.EventColumn))
	case scd.TwoHopMatch:
		viaIdx = len(cols)
		cols = append(cols, ident(child.Via.JoinColumn)+"::text")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(cols...)
	sb.From(ident(child.Table))
	query, args := sb.Build()

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", child.Table, err)
	}
	defer rows.Close()

	n := len(child.RowKey)
	var out []scd.ChildRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", child.Table, err)
		}
		row := scd.ChildRow{
			RowKey:    values[:n:n],
			NaturalID: asString(values[n]),
		}
		if nameIdx >= 0 {
			row.Name = asString(values[nameIdx])
		}
		if eventIdx >= 0 {
			row.EventTime = asTime(values[eventIdx])
		}
		if viaIdx >= 0 {
			row.ViaKey = asString(values[viaIdx])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", child.Table, err)
	}
	return out, nil
}

func (s *Session) loadSiblings(ctx context.Context, via scd.ViaConfig) (map[string]time.Time, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(ident(via.JoinColumn)+"::text", ident(via.EventColumn))
	sb.From(ident(via.Table))
	sb.Where(sb.IsNotNull(ident(via.JoinColumn)), sb.IsNotNull(ident(via.EventColumn)))
	query, args := sb.Build()

	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", via.Table, err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var at time.Time
		if err := rows.Scan(&key, &at); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", via.Table, err)
		}
		if _, ok := out[key]; !ok {
			out[key] = at.UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", via.Table, err)
	}
	return out, nil
}

// Dimension returns the entity's dimension table bound to the session.
func (s *Session) Dimension(cfg scd.EntityConfig) scd.Store {
	return &Dimension{tx: s.tx, cfg: cfg}
}

// Write copies the rows into a temporary table and applies them with one
// UPDATE ... FROM. Row keys are compared with IS NOT DISTINCT FROM so NULL
// key parts still locate their row.
func (s *Session) Write(ctx context.Context, target scd.WriteTarget, rows []scd.WriteRow) (int64, error) {
	if len(rows) == 0 || s.missing[target.Table] {
		return 0, nil
	}

	s.temp++
	tmp := fmt.Sprintf("dwh_write_%d", s.temp)

	selectCols := make([]string, 0, len(target.RowKey)+1)
	copyCols := make([]string, 0, len(target.RowKey)+1)
	conds := make([]string, 0, len(target.RowKey))
	for i, col := range target.RowKey {
		k := fmt.Sprintf("k_%d", i)
		selectCols = append(selectCols, fmt.Sprintf("%s AS %s", ident(col), k))
		copyCols = append(copyCols, k)
		conds = append(conds, fmt.Sprintf("t.%s IS NOT DISTINCT FROM w.%s", ident(col), k))
	}
	selectCols = append(selectCols, ident(target.Column)+" AS v")
	copyCols = append(copyCols, "v")

	create := fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
		tmp, strings.Join(selectCols, ", "), ident(target.Table))
	if _, err := s.tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("failed to create write table for %s: %w", target.Table, err)
	}

	data := make([][]any, len(rows))
	for i, row := range rows {
		if len(row.RowKey) != len(target.RowKey) {
			return 0, fmt.Errorf("row key has %d values, %s expects %d",
				len(row.RowKey), target.Table, len(target.RowKey))
		}
		values := make([]any, 0, len(copyCols))
		values = append(values, row.RowKey...)
		values = append(values, row.Value)
		data[i] = values
	}
	if _, err := s.tx.CopyFrom(ctx, pgx.Identifier{tmp}, copyCols, pgx.CopyFromRows(data)); err != nil {
		return 0, fmt.Errorf("failed to copy keys for %s: %w", target.Table, err)
	}

	set := []string{fmt.Sprintf("%s = w.v", ident(target.Column))}
	if target.ClearFlag != "" {
		set = append(set, fmt.Sprintf("%s = FALSE", ident(target.ClearFlag)))
	}
	update := fmt.Sprintf("UPDATE %s AS t SET %s FROM %s AS w WHERE %s",
		ident(target.Table), strings.Join(set, ", "), tmp, strings.Join(conds, " AND "))
	tag, err := s.tx.Exec(ctx, update)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s.%s: %w", target.Table, target.Column, err)
	}

	if _, err := s.tx.Exec(ctx, "DROP TABLE "+tmp); err != nil {
		return 0, fmt.Errorf("failed to drop write table: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Commit commits the transaction.
func (s *Session) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

// Rollback rolls the transaction back. Rolling back a committed session
// is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

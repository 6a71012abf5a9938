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
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

// insertBatchSize bounds the rows per INSERT so the statement stays well
// below the 65535 parameter limit.
const insertBatchSize = 1000

// Dimension is an SCD2 dimension table:
//
//	<key> BIGSERIAL PRIMARY KEY, source_<id> TEXT, name TEXT,
//	valid_from TIMESTAMP, valid_to TIMESTAMP, is_current BOOLEAN
//
// with a unique index on (source_<id>, valid_from).
type Dimension struct {
	tx  pgx.Tx
	cfg scd.EntityConfig
}

var _ scd.Store = (*Dimension)(nil)

// Rows returns every row ordered by surrogate key.
func (d *Dimension) Rows(ctx context.Context) ([]scd.DimensionRow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(
		ident(d.cfg.DimensionKey),
		ident(d.cfg.SourceColumn()),
		"COALESCE(name, '')",
		"valid_from",
		"valid_to",
		"is_current",
	)
	sb.From(ident(d.cfg.DimensionTable))
	sb.OrderBy(ident(d.cfg.DimensionKey))
	query, args := sb.Build()

	rows, err := d.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.cfg.DimensionTable, err)
	}
	defer rows.Close()

	var out []scd.DimensionRow
	for rows.Next() {
		var row scd.DimensionRow
		if err := rows.Scan(&row.SurrogateKey, &row.NaturalID, &row.Name,
			&row.ValidFrom, &row.ValidTo, &row.IsCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", d.cfg.DimensionTable, err)
		}
		row.ValidFrom = row.ValidFrom.UTC()
		if row.ValidTo != nil {
			t := row.ValidTo.UTC()
			row.ValidTo = &t
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.cfg.DimensionTable, err)
	}
	return out, nil
}

// UpsertVersions plans against the stored rows, then moves windows and
// inserts new versions in (natural id, valid_from) order.
func (d *Dimension) UpsertVersions(ctx context.Context, versions []scd.EntityVersion) (scd.UpsertResult, error) {
	existing, err := d.Rows(ctx)
	if err != nil {
		return scd.UpsertResult{}, err
	}

	plan, err := scd.PlanUpsert(d.cfg.Name, existing, versions)
	if err != nil {
		return scd.UpsertResult{}, err
	}

	for _, u := range plan.Updates {
		ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
		ub.Update(ident(d.cfg.DimensionTable))
		ub.Set(ub.Assign("valid_to", u.ValidTo))
		ub.Where(ub.Equal(ident(d.cfg.DimensionKey), u.SurrogateKey))
		query, args := ub.Build()
		if _, err := d.tx.Exec(ctx, query, args...); err != nil {
			return scd.UpsertResult{}, fmt.Errorf("failed to close window of key %d: %w", u.SurrogateKey, err)
		}
	}

	for start := 0; start < len(plan.Inserts); start += insertBatchSize {
		end := min(start+insertBatchSize, len(plan.Inserts))

		ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
		ib.InsertInto(ident(d.cfg.DimensionTable))
		ib.Cols(ident(d.cfg.SourceColumn()), "name", "valid_from", "valid_to", "is_current")
		for _, v := range plan.Inserts[start:end] {
			ib.Values(v.NaturalID, v.Name, v.ValidFrom.UTC(), v.ValidTo, v.ValidTo == nil)
		}
		query, args := ib.Build()
		if _, err := d.tx.Exec(ctx, query, args...); err != nil {
			return scd.UpsertResult{}, fmt.Errorf("failed to insert into %s: %w", d.cfg.DimensionTable, err)
		}
	}

	return scd.UpsertResult{
		Inserted:       len(plan.Inserts),
		WindowsUpdated: len(plan.Updates),
		Unchanged:      plan.Unchanged,
	}, nil
}

// RefreshCurrentFlags sets is_current = (valid_to IS NULL) where it differs.
func (d *Dimension) RefreshCurrentFlags(ctx context.Context) (int64, error) {
	sql := fmt.Sprintf(
		"UPDATE %s SET is_current = (valid_to IS NULL) WHERE is_current IS DISTINCT FROM (valid_to IS NULL)",
		ident(d.cfg.DimensionTable))
	tag, err := d.tx.Exec(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh current flags of %s: %w", d.cfg.DimensionTable, err)
	}
	return tag.RowsAffected(), nil
}

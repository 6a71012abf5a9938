//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package scd

import (
	"context"
	"time"
)

// Store is the append-only surrogate key dimension of one entity type.
//
// Surrogate keys are issued once per (natural id, valid_from) and never
// renumbered. Re-upserting an unchanged version set is a no-op.
type Store interface {
	// UpsertVersions inserts versions that have no row yet and closes or
	// moves the valid_to of rows whose successor changed. A version whose
	// (natural id, valid_from) is already issued under a different name
	// fails the whole call with *IdempotencyViolation before any write.
	UpsertVersions(ctx context.Context, versions []EntityVersion) (UpsertResult, error)

	// RefreshCurrentFlags sets is_current = (valid_to IS NULL) on every row.
	RefreshCurrentFlags(ctx context.Context) (int64, error)

	// Rows returns every dimension row ordered by surrogate key.
	Rows(ctx context.Context) ([]DimensionRow, error)
}

// UpsertResult summarises one UpsertVersions call.
type UpsertResult struct {
	// Inserted is the number of surrogate keys issued.
	Inserted int
	// WindowsUpdated counts existing rows whose valid_to changed.
	WindowsUpdated int
	// Unchanged counts versions already present as-is.
	Unchanged int
}

// WindowUpdate moves the valid_to of an existing row.
type WindowUpdate struct {
	SurrogateKey int64
	ValidTo      *time.Time
}

// UpsertPlan is the diff between the stored rows and a version set.
type UpsertPlan struct {
	Inserts   []EntityVersion
	Updates   []WindowUpdate
	Unchanged int
}

// PlanUpsert compares versions against the stored rows. Inserts keep the
// order of versions so keys are issued in (natural id, valid_from) order.
func PlanUpsert(entity string, existing []DimensionRow, versions []EntityVersion) (UpsertPlan, error) {
	var plan UpsertPlan

	byKey := make(map[VersionKey]DimensionRow, len(existing))
	for _, row := range existing {
		byKey[row.Key()] = row
	}

	for _, v := range versions {
		row, ok := byKey[v.Key()]
		if !ok {
			plan.Inserts = append(plan.Inserts, v)
			continue
		}
		if row.Name != v.Name {
			return UpsertPlan{}, &IdempotencyViolation{
				Entity:       entity,
				Key:          v.Key(),
				SurrogateKey: row.SurrogateKey,
				StoredName:   row.Name,
				IncomingName: v.Name,
			}
		}
		if !equalTimePtr(row.ValidTo, v.ValidTo) {
			plan.Updates = append(plan.Updates, WindowUpdate{
				SurrogateKey: row.SurrogateKey,
				ValidTo:      v.ValidTo,
			})
			continue
		}
		plan.Unchanged++
	}

	return plan, nil
}

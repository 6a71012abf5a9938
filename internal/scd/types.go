//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package scd resolves re-used natural identifiers into SCD Type 2
// dimension versions and propagates the resulting surrogate keys to
// dependent staging rows.
//
// The package is storage agnostic: staging data arrives as an immutable
// Snapshot, the dimension is reached through the Store interface and every
// write goes through Session.Write. The PostgreSQL implementation lives in
// internal/warehouse; MemoryWarehouse in this package backs the tests.
package scd

import (
	"fmt"
	"time"
)

// StagingRecord is one raw row of an entity staging table.
type StagingRecord struct {
	// NaturalID is the business key. It is not unique over time.
	NaturalID string

	// Name is the secondary disambiguator used by name-matched children.
	Name string

	// CreatedAt orders versions. The zero value means the source value was
	// missing or could not be parsed.
	CreatedAt time.Time

	// PossibleDuplicate is the upstream soft-dedup flag. Informational only.
	PossibleDuplicate bool
}

// EntityVersion is one validity window of a natural id.
type EntityVersion struct {
	NaturalID string
	Name      string
	CreatedAt time.Time
	ValidFrom time.Time
	// ValidTo is exclusive; nil marks the current version.
	ValidTo *time.Time
}

// IsCurrent reports whether the version is open ended.
func (v EntityVersion) IsCurrent() bool {
	return v.ValidTo == nil
}

// DimensionRow is a persisted version with its surrogate key.
type DimensionRow struct {
	SurrogateKey int64
	NaturalID    string
	Name         string
	ValidFrom    time.Time
	ValidTo      *time.Time
	IsCurrent    bool
}

// VersionKey identifies a version independently of its surrogate key.
type VersionKey struct {
	NaturalID string
	ValidFrom time.Time
}

func (k VersionKey) String() string {
	return fmt.Sprintf("%s@%s", k.NaturalID, k.ValidFrom.Format(time.RFC3339))
}

// Key returns the (natural id, valid_from) identity of the row.
func (r DimensionRow) Key() VersionKey {
	return VersionKey{NaturalID: r.NaturalID, ValidFrom: r.ValidFrom.UTC()}
}

// Key returns the (natural id, valid_from) identity of the version.
func (v EntityVersion) Key() VersionKey {
	return VersionKey{NaturalID: v.NaturalID, ValidFrom: v.ValidFrom.UTC()}
}

// MappingEntry links a staging (natural id, created_at) pair to the
// dimension row issued for it.
type MappingEntry struct {
	NaturalID    string
	Name         string
	CreatedAt    time.Time
	SurrogateKey int64
	ValidFrom    time.Time
	ValidTo      *time.Time
}

// Contains reports whether t falls inside [ValidFrom, ValidTo).
func (e MappingEntry) Contains(t time.Time) bool {
	if t.Before(e.ValidFrom) {
		return false
	}
	return e.ValidTo == nil || t.Before(*e.ValidTo)
}

// ChildRow is a dependent staging row referencing an entity by natural id.
type ChildRow struct {
	// RowKey holds the values of ChildConfig.RowKey and locates the row
	// again when the surrogate key is written back.
	RowKey []any

	NaturalID string
	Name      string

	// EventTime is the child's own timestamp (window match). Nil when the
	// column is absent or NULL.
	EventTime *time.Time

	// ViaKey is the value joined against the sibling table (two-hop match).
	ViaKey string
}

// Snapshot is the read-only input of one entity run.
type Snapshot struct {
	Records []StagingRecord

	// Children is keyed by ChildConfig.Table.
	Children map[string][]ChildRow

	// Siblings maps a ViaConfig.Table to join value -> event time.
	Siblings map[string]map[string]time.Time
}

// WriteTarget describes a column update on a staging table.
type WriteTarget struct {
	Table  string
	Column string

	// RowKey lists the columns whose values locate the rows to update.
	RowKey []string

	// ClearFlag, when set, is reset to FALSE on every updated row.
	ClearFlag string
}

// WriteRow is one row-locator/value pair for Session.Write.
type WriteRow struct {
	RowKey []any
	Value  any
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

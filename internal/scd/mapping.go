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
	"sort"
	"time"
)

// Mapping is the per-run lookup from natural id to the versions issued for
// it. It is rebuilt on every run and never persisted.
type Mapping struct {
	Entity  string
	Entries []MappingEntry

	// Unmatched lists staging rows that have no dimension row.
	Unmatched []*DataQualityError

	// byID holds entry indexes ordered by valid_from.
	byID map[string][]int
}

// BuildMapping joins staging records to dimension rows on
// natural id = source id AND created_at = valid_from. The join is exact;
// the entry carries the window for later containment lookups.
//
// Rows without a usable timestamp are skipped silently; the version
// builder has already reported them. A version missing from the dimension
// yields no entry and is listed in Unmatched.
//
// An empty dimension means the upsert has not run. It is refused as a
// whole with ErrDimensionNotLoaded instead of yielding zero entries per
// natural id, which would clear every dependent key.
func BuildMapping(entity string, records []StagingRecord, rows []DimensionRow) (*Mapping, error) {
	byKey := make(map[VersionKey]DimensionRow, len(rows))
	for _, row := range rows {
		byKey[row.Key()] = row
	}

	var entries []MappingEntry
	var unmatched []*DataQualityError
	seen := make(map[VersionKey]bool)

	for _, rec := range records {
		if rec.NaturalID == "" || rec.CreatedAt.IsZero() {
			continue
		}
		if len(rows) == 0 {
			return nil, ErrDimensionNotLoaded
		}
		key := VersionKey{NaturalID: rec.NaturalID, ValidFrom: rec.CreatedAt.UTC()}
		if seen[key] {
			continue
		}
		seen[key] = true

		row, ok := byKey[key]
		if !ok {
			unmatched = append(unmatched, &DataQualityError{
				Entity:    entity,
				NaturalID: rec.NaturalID,
				CreatedAt: rec.CreatedAt,
				Reason:    "no dimension row for this version",
			})
			continue
		}
		entries = append(entries, MappingEntry{
			NaturalID:    rec.NaturalID,
			Name:         row.Name,
			CreatedAt:    key.ValidFrom,
			SurrogateKey: row.SurrogateKey,
			ValidFrom:    row.ValidFrom.UTC(),
			ValidTo:      row.ValidTo,
		})
	}

	m := NewMapping(entity, entries)
	m.Unmatched = unmatched
	return m, nil
}

// NewMapping indexes a set of entries.
func NewMapping(entity string, entries []MappingEntry) *Mapping {
	m := &Mapping{
		Entity:  entity,
		Entries: entries,
		byID:    make(map[string][]int),
	}
	for i, e := range entries {
		m.byID[e.NaturalID] = append(m.byID[e.NaturalID], i)
	}
	for _, idx := range m.byID {
		sort.Slice(idx, func(a, b int) bool {
			return m.Entries[idx[a]].ValidFrom.Before(m.Entries[idx[b]].ValidFrom)
		})
	}
	return m
}

// Versions returns the entries of a natural id ordered by valid_from.
func (m *Mapping) Versions(naturalID string) []MappingEntry {
	idx := m.byID[naturalID]
	out := make([]MappingEntry, len(idx))
	for i, j := range idx {
		out[i] = m.Entries[j]
	}
	return out
}

// MatchName returns the entry for (natural id, name). When several
// versions share the name, the latest one wins.
func (m *Mapping) MatchName(naturalID, name string) (MappingEntry, bool) {
	idx := m.byID[naturalID]
	for i := len(idx) - 1; i >= 0; i-- {
		if e := m.Entries[idx[i]]; e.Name == name {
			return e, true
		}
	}
	return MappingEntry{}, false
}

// MatchWindow returns the entry whose window contains t.
func (m *Mapping) MatchWindow(naturalID string, t time.Time) (MappingEntry, bool) {
	for _, i := range m.byID[naturalID] {
		if e := m.Entries[i]; e.Contains(t) {
			return e, true
		}
	}
	return MappingEntry{}, false
}

// Has reports whether the natural id has any entry.
func (m *Mapping) Has(naturalID string) bool {
	return len(m.byID[naturalID]) > 0
}

// StagingRows returns the write-back rows stamping each staging
// (natural id, created_at) with its surrogate key.
func (m *Mapping) StagingRows() []WriteRow {
	rows := make([]WriteRow, 0, len(m.Entries))
	for _, e := range m.Entries {
		rows = append(rows, WriteRow{
			RowKey: []any{e.NaturalID, e.CreatedAt},
			Value:  e.SurrogateKey,
		})
	}
	return rows
}

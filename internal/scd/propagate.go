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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Assignment is a surrogate key resolved for one dependent row.
type Assignment struct {
	RowKey       []any
	NaturalID    string
	SurrogateKey int64
}

// Propagation is the outcome of matching one dependent table.
type Propagation struct {
	Table      string
	Strategy   MatchStrategy
	Assigned   []Assignment
	Unresolved []*UnresolvedDependency
}

// WriteRows converts the assignments into write-back rows.
func (p Propagation) WriteRows() []WriteRow {
	rows := make([]WriteRow, 0, len(p.Assigned))
	for _, a := range p.Assigned {
		rows = append(rows, WriteRow{RowKey: a.RowKey, Value: a.SurrogateKey})
	}
	return rows
}

// ClearRows returns write-back rows that reset the key of every unresolved
// row to NULL, so a key written by an earlier run does not outlive its
// match.
func (p Propagation) ClearRows() []WriteRow {
	rows := make([]WriteRow, 0, len(p.Unresolved))
	for _, u := range p.Unresolved {
		rows = append(rows, WriteRow{RowKey: u.RowKey, Value: nil})
	}
	return rows
}

// Propagate matches dependent rows against the mapping with the strategy
// the child's join keys call for.
//
// Name match relies on the name being stable across versions: a child of
// an entity that changed its name is assigned the version carrying the
// child's name, and a name shared by several versions resolves to the
// latest of them.
//
// Each row key receives at most one assignment; repeated rows are
// resolved once.
func Propagate(child ChildConfig, rows []ChildRow, m *Mapping, siblings map[string]time.Time) Propagation {
	p := Propagation{
		Table:    child.Table,
		Strategy: child.ResolveStrategy(),
	}
	seen := make(map[string]bool, len(rows))

	for _, row := range rows {
		rk := rowKeyString(row.RowKey)
		if seen[rk] {
			continue
		}
		seen[rk] = true

		entry, reason := matchRow(p.Strategy, row, m, siblings)
		if reason != "" {
			p.Unresolved = append(p.Unresolved, &UnresolvedDependency{
				Entity:    m.Entity,
				Table:     child.Table,
				NaturalID: row.NaturalID,
				RowKey:    row.RowKey,
				Reason:    reason,
			})
			continue
		}
		p.Assigned = append(p.Assigned, Assignment{
			RowKey:       row.RowKey,
			NaturalID:    row.NaturalID,
			SurrogateKey: entry.SurrogateKey,
		})
	}

	return p
}

func matchRow(strategy MatchStrategy, row ChildRow, m *Mapping, siblings map[string]time.Time) (MappingEntry, string) {
	if row.NaturalID == "" {
		return MappingEntry{}, "missing natural id"
	}
	if !m.Has(row.NaturalID) {
		return MappingEntry{}, "no mapping entry for natural id"
	}

	switch strategy {
	case NameMatch:
		if e, ok := m.MatchName(row.NaturalID, row.Name); ok {
			return e, ""
		}
		return MappingEntry{}, fmt.Sprintf("no version named %q", row.Name)

	case WindowMatch:
		if row.EventTime == nil {
			return MappingEntry{}, "missing event time"
		}
		return matchWindow(m, row.NaturalID, *row.EventTime)

	case TwoHopMatch:
		if row.ViaKey == "" {
			return MappingEntry{}, "missing sibling reference"
		}
		t, ok := siblings[row.ViaKey]
		if !ok {
			return MappingEntry{}, fmt.Sprintf("sibling %q not found or has no event time", row.ViaKey)
		}
		return matchWindow(m, row.NaturalID, t)
	}

	return MappingEntry{}, fmt.Sprintf("unknown match strategy %q", strategy)
}

func matchWindow(m *Mapping, naturalID string, t time.Time) (MappingEntry, string) {
	if e, ok := m.MatchWindow(naturalID, t); ok {
		return e, ""
	}
	return MappingEntry{}, fmt.Sprintf("event time %s is outside every mapped version window", t.Format(time.RFC3339))
}

// rowKeyString encodes a row key as a map key. Every part is quoted, so
// distinct keys never share an encoding; timestamps compare in UTC.
func rowKeyString(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case nil:
			parts[i] = "null"
		case time.Time:
			parts[i] = strconv.Quote(x.UTC().Format(time.RFC3339Nano))
		default:
			parts[i] = strconv.Quote(fmt.Sprint(x))
		}
	}
	return strings.Join(parts, ",")
}

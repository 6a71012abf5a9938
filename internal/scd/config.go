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
)

// MatchStrategy selects how a dependent table is joined to the mapping.
type MatchStrategy string

const (
	// NameMatch joins on (natural id, name). Used when the child carries
	// no timestamp of its own.
	NameMatch MatchStrategy = "name"

	// WindowMatch joins on natural id with the child's event time inside
	// the version window.
	WindowMatch MatchStrategy = "window"

	// TwoHopMatch borrows the event time from a sibling row first and then
	// applies WindowMatch.
	TwoHopMatch MatchStrategy = "two_hop"
)

// EntityConfig parameterises the resolution algorithm for one entity type.
type EntityConfig struct {
	// Name is the entity name (user, staff, merchant).
	Name string

	// StagingTable holds the raw entity rows.
	StagingTable    string
	IDColumn        string
	NameColumn      string
	TimestampColumn string
	DuplicateColumn string

	// KeyColumn receives the surrogate key on the staging table itself.
	KeyColumn string

	// DimensionTable and DimensionKey name the SCD2 table and its
	// surrogate key column. The natural id is stored in
	// "source_" + IDColumn.
	DimensionTable string
	DimensionKey   string

	Children []ChildConfig
}

// SourceColumn is the dimension column holding the natural id.
func (c EntityConfig) SourceColumn() string {
	return "source_" + c.IDColumn
}

// Validate checks that the configuration is complete.
func (c EntityConfig) Validate() error {
	required := map[string]string{
		"name":             c.Name,
		"staging_table":    c.StagingTable,
		"id_column":        c.IDColumn,
		"name_column":      c.NameColumn,
		"timestamp_column": c.TimestampColumn,
		"key_column":       c.KeyColumn,
		"dimension_table":  c.DimensionTable,
		"dimension_key":    c.DimensionKey,
	}
	for field, value := range required {
		if value == "" {
			return fmt.Errorf("entity %q: %s is required", c.Name, field)
		}
	}
	seen := make(map[string]bool)
	for _, child := range c.Children {
		if err := child.Validate(); err != nil {
			return fmt.Errorf("entity %q: %w", c.Name, err)
		}
		id := child.Table + "." + child.KeyColumn
		if seen[id] {
			return fmt.Errorf("entity %q: child %s listed twice", c.Name, id)
		}
		seen[id] = true
	}
	return nil
}

// StagingTarget is the write target stamping keys on the staging table.
func (c EntityConfig) StagingTarget() WriteTarget {
	return WriteTarget{
		Table:     c.StagingTable,
		Column:    c.KeyColumn,
		RowKey:    []string{c.IDColumn, c.TimestampColumn},
		ClearFlag: c.DuplicateColumn,
	}
}

// ViaConfig names the sibling table a two-hop child borrows its event time
// from.
type ViaConfig struct {
	Table       string
	JoinColumn  string
	EventColumn string
}

// ChildConfig describes one dependent staging table.
type ChildConfig struct {
	Table      string
	IDColumn   string
	NameColumn string

	// EventColumn is the child's own timestamp column (window match).
	EventColumn string

	// KeyColumn receives the surrogate key.
	KeyColumn string

	// Strategy may be left empty; Resolve infers it from the columns.
	Strategy MatchStrategy

	// RowKey lists the columns that locate a row for the write-back.
	RowKey []string

	// Via is required for two-hop children; JoinColumn must be present on
	// the child under the same name.
	Via *ViaConfig
}

// ResolveStrategy returns the configured strategy, or infers it from the
// join keys the child carries.
func (c ChildConfig) ResolveStrategy() MatchStrategy {
	if c.Strategy != "" {
		return c.Strategy
	}
	switch {
	case c.Via != nil:
		return TwoHopMatch
	case c.EventColumn != "":
		return WindowMatch
	default:
		return NameMatch
	}
}

// Validate checks that the child carries the keys its strategy needs.
func (c ChildConfig) Validate() error {
	if c.Table == "" || c.IDColumn == "" || c.KeyColumn == "" {
		return fmt.Errorf("child %q: table, id_column and key_column are required", c.Table)
	}
	if len(c.RowKey) == 0 {
		return fmt.Errorf("child %q: row_key is required", c.Table)
	}
	switch c.ResolveStrategy() {
	case NameMatch:
		if c.NameColumn == "" {
			return fmt.Errorf("child %q: name match requires name_column", c.Table)
		}
	case WindowMatch:
		if c.EventColumn == "" {
			return fmt.Errorf("child %q: window match requires event_column", c.Table)
		}
	case TwoHopMatch:
		if c.Via == nil || c.Via.Table == "" || c.Via.JoinColumn == "" || c.Via.EventColumn == "" {
			return fmt.Errorf("child %q: two-hop match requires via table, join and event columns", c.Table)
		}
	default:
		return fmt.Errorf("child %q: unknown match strategy %q", c.Table, c.Strategy)
	}
	return nil
}

// Target is the write target stamping keys on the child table.
func (c ChildConfig) Target() WriteTarget {
	return WriteTarget{
		Table:  c.Table,
		Column: c.KeyColumn,
		RowKey: c.RowKey,
	}
}

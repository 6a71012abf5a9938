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
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Strategy names recorded in reports and in the warehouse metadata.
const (
	StrategySurrogate = "surrogate"
	StrategyRename    = "rename"
)

// ChildReport summarises the propagation into one dependent table.
type ChildReport struct {
	Table      string
	Column     string
	Strategy   MatchStrategy
	Rows       int
	Resolved   int
	Unresolved int
	Written    int64

	// Cleared counts unresolved rows whose key column was reset to NULL.
	Cleared int64
}

// Report summarises one entity run.
type Report struct {
	RunID      uuid.UUID
	Entity     string
	Strategy   string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	StagingRows int
	Versions    int
	Rejected    int
	Merged      int
	Conflicts   int

	KeysIssued      int
	WindowsUpdated  int
	FlagsRefreshed  int64
	MappingEntries  int
	Unmatched       int
	StagingWritten  int64
	IDsRenamed      int
	GroupsRewritten int

	Children []ChildReport
}

// Resolved returns the number of dependent rows that received a key.
func (r *Report) Resolved() int {
	n := 0
	for _, c := range r.Children {
		n += c.Resolved
	}
	return n
}

// Unresolved returns the number of dependent rows left without a key.
func (r *Report) Unresolved() int {
	n := 0
	for _, c := range r.Children {
		n += c.Unresolved
	}
	return n
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// MarshalZerologObject lets a report be logged with Event.EmbedObject.
func (r *Report) MarshalZerologObject(e *zerolog.Event) {
	e.Str("strategy", r.Strategy).
		Bool("dry_run", r.DryRun).
		Int("staging_rows", r.StagingRows).
		Int("versions", r.Versions).
		Int("keys_issued", r.KeysIssued).
		Int("windows_updated", r.WindowsUpdated).
		Int("rejected", r.Rejected).
		Int("merged", r.Merged).
		Int("unmatched", r.Unmatched).
		Int("resolved", r.Resolved()).
		Int("unresolved", r.Unresolved()).
		Dur("duration", r.Duration())
	if r.Strategy == StrategyRename {
		e.Int("ids_renamed", r.IDsRenamed)
	}
}

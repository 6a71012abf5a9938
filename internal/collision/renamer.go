//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package collision implements the rename strategy: instead of issuing
// surrogate keys it rewrites the natural id of every historical version of
// a colliding id, e.g. U1 -> U1_HIST_20200601, and cascades the new id to
// the dependent tables.
//
// The rewrite is destructive and cannot be undone by re-running. A second
// run finds no flagged rows left and does nothing, but the strategy must
// never be mixed with surrogate keys on the same warehouse.
package collision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

// HistSuffix separates the original id from the version date.
const HistSuffix = "_HIST_"

// Config configures a Renamer.
type Config struct {
	Warehouse scd.Beginner
	Clock     clockwork.Clock
	RunID     uuid.UUID
	DryRun    bool
}

var _ scd.Strategy = (*Renamer)(nil)

// Renamer runs the rename strategy.
type Renamer struct {
	warehouse scd.Beginner
	clock     clockwork.Clock
	runID     uuid.UUID
	dryRun    bool
}

// NewRenamer creates a renamer.
func NewRenamer(cfg Config) (*Renamer, error) {
	if cfg.Warehouse == nil {
		return nil, fmt.Errorf("warehouse is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	return &Renamer{
		warehouse: cfg.Warehouse,
		clock:     cfg.Clock,
		runID:     cfg.RunID,
		dryRun:    cfg.DryRun,
	}, nil
}

// Rename is the planned rewrite of one version.
type Rename struct {
	Key   scd.VersionKey
	NewID string
}

// Plan is the set of rewrites for one entity.
type Plan struct {
	// Mapping holds every version of every renamed group. The entry's
	// SurrogateKey indexes IDs.
	Mapping *scd.Mapping
	IDs     []string

	Renames []Rename
	Groups  int
	Set     scd.VersionSet
}

// BuildPlan decides the new ids. Only natural ids with more than one
// version and at least one row flagged as a possible duplicate are
// rewritten. The earliest version keeps the original id.
func BuildPlan(entity string, records []scd.StagingRecord) *Plan {
	plan := &Plan{Set: scd.BuildVersions(entity, records)}

	flagged := make(map[string]bool)
	taken := make(map[string]bool)
	for _, rec := range records {
		taken[rec.NaturalID] = true
		if rec.PossibleDuplicate {
			flagged[rec.NaturalID] = true
		}
	}

	groups := scd.GroupVersions(plan.Set.Versions)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entries []scd.MappingEntry
	for _, id := range ids {
		versions := groups[id]
		if len(versions) < 2 || !flagged[id] {
			continue
		}
		plan.Groups++

		for i, v := range versions {
			newID := id
			if i > 0 {
				newID = uniqueID(id+HistSuffix+v.ValidFrom.Format("20060102"), taken)
				taken[newID] = true
				plan.Renames = append(plan.Renames, Rename{Key: v.Key(), NewID: newID})
			}
			entries = append(entries, scd.MappingEntry{
				NaturalID:    id,
				Name:         v.Name,
				CreatedAt:    v.ValidFrom,
				SurrogateKey: int64(len(plan.IDs)),
				ValidFrom:    v.ValidFrom,
				ValidTo:      v.ValidTo,
			})
			plan.IDs = append(plan.IDs, newID)
		}
	}

	plan.Mapping = scd.NewMapping(entity, entries)
	return plan
}

func uniqueID(candidate string, taken map[string]bool) string {
	if !taken[candidate] {
		return candidate
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s_%d", candidate, n)
		if !taken[id] {
			return id
		}
	}
}

// StagingRows returns the id rewrites of the staging table. Kept versions
// are written with their own id so the duplicate flag is cleared on every
// row of a renamed group.
func (p *Plan) StagingRows() []scd.WriteRow {
	rows := make([]scd.WriteRow, 0, len(p.Mapping.Entries))
	for _, e := range p.Mapping.Entries {
		rows = append(rows, scd.WriteRow{
			RowKey: []any{e.NaturalID, e.CreatedAt},
			Value:  p.IDs[e.SurrogateKey],
		})
	}
	return rows
}

// ChildRows propagates the rewrites to one dependent table. Rows of ids
// that are not renamed are left alone.
func (p *Plan) ChildRows(child scd.ChildConfig, rows []scd.ChildRow, siblings map[string]time.Time) (scd.Propagation, []scd.WriteRow) {
	var relevant []scd.ChildRow
	for _, row := range rows {
		if p.Mapping.Has(row.NaturalID) {
			relevant = append(relevant, row)
		}
	}

	prop := scd.Propagate(child, relevant, p.Mapping, siblings)
	var writes []scd.WriteRow
	for _, a := range prop.Assigned {
		if newID := p.IDs[a.SurrogateKey]; newID != a.NaturalID {
			writes = append(writes, scd.WriteRow{RowKey: a.RowKey, Value: newID})
		}
	}
	return prop, writes
}

// Resolve rewrites the colliding ids of one entity inside one session.
// Failures are reported as non-retryable.
func (r *Renamer) Resolve(ctx context.Context, entity scd.EntityConfig) (*scd.Report, error) {
	report := &scd.Report{
		RunID:     r.runID,
		Entity:    entity.Name,
		Strategy:  scd.StrategyRename,
		DryRun:    r.dryRun,
		StartedAt: r.clock.Now(),
	}
	defer func() { report.FinishedAt = r.clock.Now() }()

	if err := entity.Validate(); err != nil {
		return report, err
	}

	log := logging.ForRun(entity.Name, r.runID.String())

	step := "begin"
	err := scd.InSession(ctx, r.warehouse, !r.dryRun, func(sess scd.Session) error {
		step = "prepare"
		if err := sess.Prepare(ctx, entity); err != nil {
			return err
		}

		step = "load"
		snap, err := sess.LoadSnapshot(ctx, entity)
		if err != nil {
			return err
		}
		report.StagingRows = len(snap.Records)

		plan := BuildPlan(entity.Name, snap.Records)
		report.Versions = len(plan.Set.Versions)
		report.Rejected = len(plan.Set.Rejected)
		report.Merged = plan.Set.Merged
		report.Conflicts = len(plan.Set.Conflicts)
		report.GroupsRewritten = plan.Groups
		report.IDsRenamed = len(plan.Renames)
		report.MappingEntries = len(plan.Mapping.Entries)

		if plan.Groups == 0 {
			log.Info().Msg("No flagged collisions; nothing to rename")
			return nil
		}

		step = "write " + entity.StagingTable
		target := scd.WriteTarget{
			Table:     entity.StagingTable,
			Column:    entity.IDColumn,
			RowKey:    []string{entity.IDColumn, entity.TimestampColumn},
			ClearFlag: entity.DuplicateColumn,
		}
		if report.StagingWritten, err = sess.Write(ctx, target, plan.StagingRows()); err != nil {
			return err
		}

		for _, child := range entity.Children {
			step = "propagate " + child.Table
			var siblings map[string]time.Time
			if child.Via != nil {
				siblings = snap.Siblings[child.Via.Table]
			}
			prop, writes := plan.ChildRows(child, snap.Children[child.Table], siblings)

			cr := scd.ChildReport{
				Table:      child.Table,
				Column:     child.IDColumn,
				Strategy:   prop.Strategy,
				Rows:       len(snap.Children[child.Table]),
				Resolved:   len(prop.Assigned),
				Unresolved: len(prop.Unresolved),
			}
			childTarget := scd.WriteTarget{
				Table:  child.Table,
				Column: child.IDColumn,
				RowKey: child.RowKey,
			}
			if cr.Written, err = sess.Write(ctx, childTarget, writes); err != nil {
				return err
			}
			report.Children = append(report.Children, cr)

			if len(prop.Unresolved) > 0 {
				log.Warn().
					Str("table", child.Table).
					Int("unresolved", len(prop.Unresolved)).
					Msg("Dependent rows of renamed ids could not be matched")
			}
		}

		step = "commit"
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("step", step).
			Msg("Rename rolled back; inspect the data before running again")
		return report, &scd.TransactionFailure{
			Entity:    entity.Name,
			Step:      step,
			Retryable: false,
			Err:       err,
		}
	}

	log.Info().EmbedObject(report).Msg("Entity renamed")
	return report, nil
}

// ResolveAll renames entities one after another.
func (r *Renamer) ResolveAll(ctx context.Context, entities []scd.EntityConfig) ([]*scd.Report, error) {
	return scd.ResolveEach(ctx, r.Resolve, entities)
}

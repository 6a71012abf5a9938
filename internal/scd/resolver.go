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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Warehouse Beginner
	Clock     clockwork.Clock
	RunID     uuid.UUID

	// DryRun computes everything and rolls the session back.
	DryRun bool
}

var _ Strategy = (*Resolver)(nil)

// Resolver runs the surrogate key strategy. Running it twice on the same
// data issues no new keys and rewrites the same values.
type Resolver struct {
	warehouse Beginner
	clock     clockwork.Clock
	runID     uuid.UUID
	dryRun    bool
}

// NewResolver creates a resolver. A zero RunID is replaced by a random one.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Warehouse == nil {
		return nil, fmt.Errorf("warehouse is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	return &Resolver{
		warehouse: cfg.Warehouse,
		clock:     cfg.Clock,
		runID:     cfg.RunID,
		dryRun:    cfg.DryRun,
	}, nil
}

// RunID returns the identifier attached to every report of the resolver.
func (r *Resolver) RunID() uuid.UUID {
	return r.runID
}

// Resolve processes one entity inside a single session: build versions,
// upsert the dimension, build the mapping and write keys back to the
// staging table and every dependent table. Any error rolls the whole
// entity back.
//
// The returned report is filled in as far as the run got, also on error.
func (r *Resolver) Resolve(ctx context.Context, entity EntityConfig) (*Report, error) {
	report := &Report{
		RunID:     r.runID,
		Entity:    entity.Name,
		Strategy:  StrategySurrogate,
		DryRun:    r.dryRun,
		StartedAt: r.clock.Now(),
	}
	defer func() { report.FinishedAt = r.clock.Now() }()

	if err := entity.Validate(); err != nil {
		return report, err
	}

	log := logging.ForRun(entity.Name, r.runID.String())

	step := "begin"
	err := InSession(ctx, r.warehouse, !r.dryRun, func(sess Session) error {
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

		step = "dimension"
		store := sess.Dimension(entity)
		history, err := store.Rows(ctx)
		if err != nil {
			return err
		}

		set := BuildVersionsWithHistory(entity.Name, snap.Records, history)
		report.Versions = len(set.Versions)
		report.Rejected = len(set.Rejected)
		report.Merged = set.Merged
		report.Conflicts = len(set.Conflicts)
		logDataQuality(log, set.Rejected, "Staging row rejected")
		logDataQuality(log, set.Conflicts, "Staging rows merged")

		result, err := store.UpsertVersions(ctx, set.Versions)
		if err != nil {
			return err
		}
		report.KeysIssued = result.Inserted
		report.WindowsUpdated = result.WindowsUpdated

		if report.FlagsRefreshed, err = store.RefreshCurrentFlags(ctx); err != nil {
			return err
		}

		rows, err := store.Rows(ctx)
		if err != nil {
			return err
		}

		step = "mapping"
		mapping, err := BuildMapping(entity.Name, snap.Records, rows)
		if err != nil {
			return err
		}
		report.MappingEntries = len(mapping.Entries)
		report.Unmatched = len(mapping.Unmatched)
		logDataQuality(log, mapping.Unmatched, "Staging row has no dimension version")

		step = "write " + entity.StagingTable
		if report.StagingWritten, err = sess.Write(ctx, entity.StagingTarget(), mapping.StagingRows()); err != nil {
			return err
		}

		for _, child := range entity.Children {
			step = "propagate " + child.Table
			var siblings map[string]time.Time
			if child.Via != nil {
				siblings = snap.Siblings[child.Via.Table]
			}
			p := Propagate(child, snap.Children[child.Table], mapping, siblings)

			cr := ChildReport{
				Table:      child.Table,
				Column:     child.KeyColumn,
				Strategy:   p.Strategy,
				Rows:       len(snap.Children[child.Table]),
				Resolved:   len(p.Assigned),
				Unresolved: len(p.Unresolved),
			}
			if cr.Written, err = sess.Write(ctx, child.Target(), p.WriteRows()); err != nil {
				return err
			}
			if cr.Cleared, err = sess.Write(ctx, child.Target(), p.ClearRows()); err != nil {
				return err
			}
			report.Children = append(report.Children, cr)

			for _, u := range p.Unresolved {
				log.Debug().Str("table", u.Table).Str("natural_id", u.NaturalID).
					Msg(u.Reason)
			}
			if len(p.Unresolved) > 0 {
				log.Warn().
					Str("table", child.Table).
					Str("strategy", string(p.Strategy)).
					Int("unresolved", len(p.Unresolved)).
					Msg("Dependent rows left without a surrogate key")
			}
		}

		step = "commit"
		return nil
	})
	if err != nil {
		var violation *IdempotencyViolation
		if errors.As(err, &violation) {
			log.Error().Err(err).Msg("Idempotency violation; entity rolled back")
			return report, err
		}
		if errors.Is(err, ErrDimensionNotLoaded) {
			return report, err
		}
		log.Error().Err(err).Str("step", step).Msg("Entity run rolled back")
		return report, &TransactionFailure{
			Entity:    entity.Name,
			Step:      step,
			Retryable: true,
			Err:       err,
		}
	}

	report.FinishedAt = r.clock.Now()
	log.Info().EmbedObject(report).Msg("Entity resolved")
	return report, nil
}

// ResolveAll resolves entities one after another. A failed entity does not
// stop the others; all errors are joined.
func (r *Resolver) ResolveAll(ctx context.Context, entities []EntityConfig) ([]*Report, error) {
	return ResolveEach(ctx, r.Resolve, entities)
}

// ResolveEach applies resolve to every entity in order. Entities are
// independent: each one commits or rolls back on its own.
func ResolveEach(ctx context.Context, resolve func(context.Context, EntityConfig) (*Report, error), entities []EntityConfig) ([]*Report, error) {
	var reports []*Report
	var errs []error
	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := resolve(ctx, entity)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// Strategy is implemented by every duplicate resolution strategy.
type Strategy interface {
	Resolve(ctx context.Context, entity EntityConfig) (*Report, error)
	ResolveAll(ctx context.Context, entities []EntityConfig) ([]*Report, error)
}

func logDataQuality(log zerolog.Logger, issues []*DataQualityError, msg string) {
	for _, issue := range issues {
		log.Warn().
			Str("natural_id", issue.NaturalID).
			Time("created_at", issue.CreatedAt).
			Str("reason", issue.Reason).
			Msg(msg)
	}
}

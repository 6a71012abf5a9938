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
	"fmt"

	"github.com/pgEdge/pgedge-dwh/internal/logging"
)

// Session is the data-access context of one entity run. Everything it
// reads and writes belongs to a single transaction.
type Session interface {
	// Prepare makes sure the key columns exist and takes the entity's
	// exclusive run lock.
	Prepare(ctx context.Context, cfg EntityConfig) error

	// LoadSnapshot reads the staging, child and sibling rows of an entity.
	LoadSnapshot(ctx context.Context, cfg EntityConfig) (*Snapshot, error)

	// Dimension returns the entity's dimension store bound to the session.
	Dimension(cfg EntityConfig) Store

	// Write sets target.Column on the rows located by each row key and
	// returns the number of rows updated. It is the only way the resolver
	// mutates staging data.
	Write(ctx context.Context, target WriteTarget, rows []WriteRow) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens sessions.
type Beginner interface {
	Begin(ctx context.Context) (Session, error)
}

// InSession runs fn inside a fresh session. The session is committed when
// fn succeeds and commit is true; it is rolled back on every other path.
func InSession(ctx context.Context, b Beginner, commit bool, fn func(Session) error) error {
	sess, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if err := sess.Rollback(context.WithoutCancel(ctx)); err != nil {
			logging.Warn().Err(err).Msg("Rollback failed")
		}
	}()

	if err := fn(sess); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	done = true
	return nil
}

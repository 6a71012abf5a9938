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
	"errors"
	"fmt"
	"time"
)

// ErrDimensionNotLoaded is returned when a mapping is requested for staging
// rows before any dimension row exists for the entity.
var ErrDimensionNotLoaded = errors.New("dimension has no rows; upsert versions before building the mapping")

// DataQualityError reports a staging row that could not be windowed or
// matched. It is never fatal; the row is skipped and counted.
type DataQualityError struct {
	Entity    string
	NaturalID string
	CreatedAt time.Time
	Reason    string
}

func (e *DataQualityError) Error() string {
	if e.CreatedAt.IsZero() {
		return fmt.Sprintf("%s %q: %s", e.Entity, e.NaturalID, e.Reason)
	}
	return fmt.Sprintf("%s %q at %s: %s", e.Entity, e.NaturalID,
		e.CreatedAt.Format(time.RFC3339), e.Reason)
}

// IdempotencyViolation is raised when a version would collide with an
// already issued dimension row under different attributes. Overwriting it
// would corrupt history already referenced by committed facts.
type IdempotencyViolation struct {
	Entity       string
	Key          VersionKey
	SurrogateKey int64
	StoredName   string
	IncomingName string
}

func (e *IdempotencyViolation) Error() string {
	return fmt.Sprintf(
		"%s version %s already issued as key %d with name %q; refusing to overwrite with %q",
		e.Entity, e.Key, e.SurrogateKey, e.StoredName, e.IncomingName)
}

// UnresolvedDependency reports a dependent row that matched no mapping
// entry. Its key stays NULL and it is not retried.
type UnresolvedDependency struct {
	Entity    string
	Table     string
	NaturalID string
	RowKey    []any
	Reason    string
}

func (e *UnresolvedDependency) Error() string {
	return fmt.Sprintf("%s: %s row %v (%q) unresolved: %s",
		e.Entity, e.Table, e.RowKey, e.NaturalID, e.Reason)
}

// TransactionFailure wraps a database failure raised while an entity run
// held its transaction open. The run has been rolled back.
type TransactionFailure struct {
	Entity string
	Step   string
	// Retryable is false for strategies that are not idempotent.
	Retryable bool
	Err       error
}

func (e *TransactionFailure) Error() string {
	retry := "safe to retry"
	if !e.Retryable {
		retry = "NOT safe to retry automatically"
	}
	return fmt.Sprintf("%s run rolled back during %s (%s): %v", e.Entity, e.Step, retry, e.Err)
}

func (e *TransactionFailure) Unwrap() error {
	return e.Err
}

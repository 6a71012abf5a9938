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
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Keys start at 1 and grow by one per
// issued version, like a BIGSERIAL column.
type MemoryStore struct {
	entity  string
	rows    []DimensionRow
	nextKey int64
}

// NewMemoryStore returns an empty dimension.
func NewMemoryStore(entity string) *MemoryStore {
	return &MemoryStore{entity: entity, nextKey: 1}
}

func (s *MemoryStore) UpsertVersions(_ context.Context, versions []EntityVersion) (UpsertResult, error) {
	plan, err := PlanUpsert(s.entity, s.rows, versions)
	if err != nil {
		return UpsertResult{}, err
	}

	index := make(map[int64]int, len(s.rows))
	for i, row := range s.rows {
		index[row.SurrogateKey] = i
	}
	for _, u := range plan.Updates {
		s.rows[index[u.SurrogateKey]].ValidTo = u.ValidTo
	}
	for _, v := range plan.Inserts {
		s.rows = append(s.rows, DimensionRow{
			SurrogateKey: s.nextKey,
			NaturalID:    v.NaturalID,
			Name:         v.Name,
			ValidFrom:    v.ValidFrom.UTC(),
			ValidTo:      v.ValidTo,
			IsCurrent:    v.ValidTo == nil,
		})
		s.nextKey++
	}

	return UpsertResult{
		Inserted:       len(plan.Inserts),
		WindowsUpdated: len(plan.Updates),
		Unchanged:      plan.Unchanged,
	}, nil
}

func (s *MemoryStore) RefreshCurrentFlags(_ context.Context) (int64, error) {
	var changed int64
	for i := range s.rows {
		current := s.rows[i].ValidTo == nil
		if s.rows[i].IsCurrent != current {
			s.rows[i].IsCurrent = current
			changed++
		}
	}
	return changed, nil
}

func (s *MemoryStore) Rows(_ context.Context) ([]DimensionRow, error) {
	out := make([]DimensionRow, len(s.rows))
	copy(out, s.rows)
	sort.Slice(out, func(i, j int) bool { return out[i].SurrogateKey < out[j].SurrogateKey })
	return out, nil
}

func (s *MemoryStore) clone() *MemoryStore {
	c := &MemoryStore{entity: s.entity, nextKey: s.nextKey}
	c.rows = make([]DimensionRow, len(s.rows))
	copy(c.rows, s.rows)
	return c
}

type memoryState struct {
	snapshots map[string]*Snapshot
	dims      map[string]*MemoryStore
	values    map[string]map[string]any
}

func (st *memoryState) clone() *memoryState {
	c := &memoryState{
		snapshots: st.snapshots,
		dims:      make(map[string]*MemoryStore, len(st.dims)),
		values:    make(map[string]map[string]any, len(st.values)),
	}
	for k, d := range st.dims {
		c.dims[k] = d.clone()
	}
	for k, col := range st.values {
		cc := make(map[string]any, len(col))
		for rk, v := range col {
			cc[rk] = v
		}
		c.values[k] = cc
	}
	return c
}

// MemoryWarehouse is an in-process Beginner. Each session works on a copy
// of the committed state and replaces it on Commit, which gives the same
// all-or-nothing visibility as a database transaction.
//
// Written values are recorded per table and column; snapshots are seeded
// once and are not changed by writes.
type MemoryWarehouse struct {
	mu      sync.Mutex
	state   *memoryState
	failOn  map[string]error
	commits int
}

// NewMemoryWarehouse returns an empty warehouse.
func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{
		state: &memoryState{
			snapshots: make(map[string]*Snapshot),
			dims:      make(map[string]*MemoryStore),
			values:    make(map[string]map[string]any),
		},
		failOn: make(map[string]error),
	}
}

// Seed sets the snapshot returned for an entity.
func (w *MemoryWarehouse) Seed(entity string, snap *Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.snapshots[entity] = snap
}

// FailOn makes a session step return err. Steps are "prepare", "load",
// "commit" and "write:<table>".
func (w *MemoryWarehouse) FailOn(step string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failOn, step)
		return
	}
	w.failOn[step] = err
}

// Dimension returns the committed rows of a dimension table.
func (w *MemoryWarehouse) Dimension(table string) []DimensionRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.state.dims[table]
	if !ok {
		return nil
	}
	rows, _ := d.Rows(context.Background())
	return rows
}

// Value returns the committed value written to table.column for a row key.
func (w *MemoryWarehouse) Value(table, column string, rowKey ...any) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.state.values[table+"."+column][rowKeyString(rowKey)]
	return v, ok
}

// Values returns the number of committed values in table.column. A NULL
// write removes the value.
func (w *MemoryWarehouse) Values(table, column string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.state.values[table+"."+column])
}

// Commits returns the number of committed sessions.
func (w *MemoryWarehouse) Commits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commits
}

func (w *MemoryWarehouse) Begin(_ context.Context) (Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return &memorySession{w: w, state: w.state.clone()}, nil
}

func (w *MemoryWarehouse) fail(step string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failOn[step]
}

var errSessionClosed = errors.New("session already closed")

type memorySession struct {
	w      *MemoryWarehouse
	state  *memoryState
	closed bool
}

func (s *memorySession) Prepare(_ context.Context, cfg EntityConfig) error {
	if s.closed {
		return errSessionClosed
	}
	return s.w.fail("prepare")
}

func (s *memorySession) LoadSnapshot(_ context.Context, cfg EntityConfig) (*Snapshot, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if err := s.w.fail("load"); err != nil {
		return nil, err
	}
	snap, ok := s.state.snapshots[cfg.Name]
	if !ok {
		return &Snapshot{}, nil
	}
	return snap, nil
}

func (s *memorySession) Dimension(cfg EntityConfig) Store {
	d, ok := s.state.dims[cfg.DimensionTable]
	if !ok {
		d = NewMemoryStore(cfg.Name)
		s.state.dims[cfg.DimensionTable] = d
	}
	return d
}

func (s *memorySession) Write(_ context.Context, target WriteTarget, rows []WriteRow) (int64, error) {
	if s.closed {
		return 0, errSessionClosed
	}
	if err := s.w.fail("write:" + target.Table); err != nil {
		return 0, err
	}

	col := s.column(target.Table, target.Column)
	var flags map[string]any
	if target.ClearFlag != "" {
		flags = s.column(target.Table, target.ClearFlag)
	}
	for _, row := range rows {
		if len(row.RowKey) != len(target.RowKey) {
			return 0, fmt.Errorf("row key has %d values, %s expects %d",
				len(row.RowKey), target.Table, len(target.RowKey))
		}
		rk := rowKeyString(row.RowKey)
		if row.Value == nil {
			delete(col, rk)
		} else {
			col[rk] = row.Value
		}
		if flags != nil {
			flags[rk] = false
		}
	}
	return int64(len(rows)), nil
}

func (s *memorySession) column(table, column string) map[string]any {
	name := table + "." + column
	col, ok := s.state.values[name]
	if !ok {
		col = make(map[string]any)
		s.state.values[name] = col
	}
	return col
}

func (s *memorySession) Commit(_ context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	if err := s.w.fail("commit"); err != nil {
		return err
	}
	s.closed = true

	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	s.w.state = s.state
	s.w.commits++
	return nil
}

func (s *memorySession) Rollback(_ context.Context) error {
	s.closed = true
	return nil
}

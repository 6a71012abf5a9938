//-------------------------------------------------------------------------
//
// pgEdge Warehouse Key Resolver
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package collision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func userEntity() scd.EntityConfig {
	return scd.EntityConfig{
		Name:            "user",
		StagingTable:    "stg_user_data",
		IDColumn:        "user_id",
		NameColumn:      "name",
		TimestampColumn: "creation_date",
		DuplicateColumn: "possible_duplicate",
		KeyColumn:       "user_key",
		DimensionTable:  "dim_user",
		DimensionKey:    "user_key",
		Children: []scd.ChildConfig{
			{
				Table:      "stg_user_job",
				IDColumn:   "user_id",
				NameColumn: "name",
				KeyColumn:  "user_key",
				RowKey:     []string{"user_id", "name", "job_title"},
			},
			{
				Table:       "stg_order_data",
				IDColumn:    "user_id",
				EventColumn: "transaction_date",
				KeyColumn:   "user_key",
				RowKey:      []string{"order_id"},
			},
		},
	}
}

func TestBuildPlan(t *testing.T) {
	t.Run("historical versions are renamed", func(t *testing.T) {
		plan := BuildPlan("user", []scd.StagingRecord{
			{NaturalID: "U1", Name: "Alice", CreatedAt: day("2020-01-01"), PossibleDuplicate: true},
			{NaturalID: "U1", Name: "Alice B.", CreatedAt: day("2020-06-01")},
			{NaturalID: "U2", Name: "Bob", CreatedAt: day("2020-01-01")},
		})

		assert.Equal(t, 1, plan.Groups)
		require.Len(t, plan.Renames, 1)
		assert.Equal(t, "U1_HIST_20200601", plan.Renames[0].NewID)
		assert.Equal(t, []string{"U1", "U1_HIST_20200601"}, plan.IDs)
		assert.False(t, plan.Mapping.Has("U2"))
	})

	t.Run("unflagged groups are left alone", func(t *testing.T) {
		plan := BuildPlan("user", []scd.StagingRecord{
			{NaturalID: "U1", Name: "Alice", CreatedAt: day("2020-01-01")},
			{NaturalID: "U1", Name: "Alice B.", CreatedAt: day("2020-06-01")},
		})
		assert.Zero(t, plan.Groups)
		assert.Empty(t, plan.StagingRows())
	})

	t.Run("same day clash gets a counter", func(t *testing.T) {
		plan := BuildPlan("user", []scd.StagingRecord{
			{NaturalID: "U1", Name: "A", CreatedAt: day("2020-01-01"), PossibleDuplicate: true},
			{NaturalID: "U1", Name: "B", CreatedAt: day("2020-06-01").Add(time.Hour)},
			{NaturalID: "U1", Name: "C", CreatedAt: day("2020-06-01").Add(2 * time.Hour)},
			{NaturalID: "U1_HIST_20200101", Name: "D", CreatedAt: day("2020-01-01")},
		})

		require.Len(t, plan.Renames, 2)
		assert.Equal(t, "U1_HIST_20200601", plan.Renames[0].NewID)
		assert.Equal(t, "U1_HIST_20200601_2", plan.Renames[1].NewID)
	})
}

func TestRenamerResolve(t *testing.T) {
	ctx := context.Background()
	w := scd.NewMemoryWarehouse()
	w.Seed("user", &scd.Snapshot{
		Records: []scd.StagingRecord{
			{NaturalID: "U1", Name: "Alice", CreatedAt: day("2020-01-01"), PossibleDuplicate: true},
			{NaturalID: "U1", Name: "Alice B.", CreatedAt: day("2020-06-01")},
			{NaturalID: "U2", Name: "Bob", CreatedAt: day("2020-02-01")},
		},
		Children: map[string][]scd.ChildRow{
			"stg_user_job": {
				{RowKey: []any{"U1", "Alice B.", "Engineer"}, NaturalID: "U1", Name: "Alice B."},
				{RowKey: []any{"U1", "Alice", "Intern"}, NaturalID: "U1", Name: "Alice"},
				{RowKey: []any{"U2", "Bob", "Analyst"}, NaturalID: "U2", Name: "Bob"},
			},
			"stg_order_data": {
				{RowKey: []any{"O1"}, NaturalID: "U1", EventTime: dayPtr("2020-03-01")},
				{RowKey: []any{"O2"}, NaturalID: "U1", EventTime: dayPtr("2020-09-01")},
			},
		},
	})

	r, err := NewRenamer(Config{
		Warehouse: w,
		Clock:     clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	report, err := r.Resolve(ctx, userEntity())
	require.NoError(t, err)

	v, ok := w.Value("stg_user_data", "user_id", "U1", day("2020-06-01"))
	require.True(t, ok)
	assert.Equal(t, "U1_HIST_20200601", v)
	v, _ = w.Value("stg_user_data", "user_id", "U1", day("2020-01-01"))
	assert.Equal(t, "U1", v)
	flag, _ := w.Value("stg_user_data", "possible_duplicate", "U1", day("2020-01-01"))
	assert.Equal(t, false, flag)

	v, _ = w.Value("stg_user_job", "user_id", "U1", "Alice B.", "Engineer")
	assert.Equal(t, "U1_HIST_20200601", v)
	_, ok = w.Value("stg_user_job", "user_id", "U1", "Alice", "Intern")
	assert.False(t, ok, "rows keeping their id are not rewritten")
	_, ok = w.Value("stg_user_job", "user_id", "U2", "Bob", "Analyst")
	assert.False(t, ok)

	v, _ = w.Value("stg_order_data", "user_id", "O2")
	assert.Equal(t, "U1_HIST_20200601", v)
	_, ok = w.Value("stg_order_data", "user_id", "O1")
	assert.False(t, ok)

	assert.Equal(t, scd.StrategyRename, report.Strategy)
	assert.Equal(t, 1, report.IDsRenamed)
	assert.Equal(t, 1, report.GroupsRewritten)
	assert.Empty(t, w.Dimension("dim_user"), "rename issues no surrogate keys")
}

func TestRenamerFailureIsNotRetryable(t *testing.T) {
	w := scd.NewMemoryWarehouse()
	w.Seed("user", &scd.Snapshot{Records: []scd.StagingRecord{
		{NaturalID: "U1", Name: "Alice", CreatedAt: day("2020-01-01"), PossibleDuplicate: true},
		{NaturalID: "U1", Name: "Alice B.", CreatedAt: day("2020-06-01")},
	}})
	w.FailOn("write:stg_user_job", errors.New("disk full"))

	r, err := NewRenamer(Config{Warehouse: w})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), userEntity())

	var failure *scd.TransactionFailure
	require.True(t, errors.As(err, &failure))
	assert.False(t, failure.Retryable)
	assert.Equal(t, "propagate stg_user_job", failure.Step)
	assert.Zero(t, w.Values("stg_user_data", "user_id"))
}

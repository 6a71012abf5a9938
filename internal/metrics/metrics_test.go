package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

func sampleReport() *scd.Report {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &scd.Report{
		Entity:     "user",
		Strategy:   scd.StrategySurrogate,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Versions:   5,
		KeysIssued: 4,
		Rejected:   1,
		Children: []scd.ChildReport{
			{Table: "stg_order_data", Resolved: 10, Unresolved: 2},
		},
	}
}

func TestObserve(t *testing.T) {
	r := NewRecorder()
	report := sampleReport()

	r.Observe(report, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("user", "surrogate", "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.KeysIssued.WithLabelValues("user")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.Versions.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RejectedRows.WithLabelValues("user")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.DependentsResolved.WithLabelValues("user", "stg_order_data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.DependentsUnresolved.WithLabelValues("user", "stg_order_data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.RunDuration.WithLabelValues("user")))
	assert.Equal(t, float64(report.FinishedAt.Unix()), testutil.ToFloat64(r.LastSuccess.WithLabelValues("user")))
}

func TestObserveFailureAndDryRun(t *testing.T) {
	r := NewRecorder()

	r.Observe(sampleReport(), errors.New("boom"))
	dry := sampleReport()
	dry.DryRun = true
	r.Observe(dry, nil)
	r.Observe(nil, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("user", "surrogate", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.RunsTotal.WithLabelValues("user", "surrogate", "dry_run")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.LastSuccess))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Observe(sampleReport(), nil)

	path := filepath.Join(t.TempDir(), "pgedge_dwh.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `pgedge_dwh_dimension_keys_issued{entity="user"} 4`)
	assert.Contains(t, string(data), "pgedge_dwh_run_total")
}

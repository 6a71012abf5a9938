// Package metrics exposes resolver run reports as Prometheus metrics. The
// resolver is a batch job, so the metrics are written to a node-exporter
// textfile after each run instead of being served.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pgEdge/pgedge-dwh/internal/scd"
)

const namespace = "pgedge_dwh"

// Recorder holds the metrics of one process on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	// RunsTotal counts entity runs by outcome.
	RunsTotal *prometheus.CounterVec

	// KeysIssued is the number of surrogate keys issued by the last run.
	KeysIssued *prometheus.GaugeVec

	// Versions is the number of versions built by the last run.
	Versions *prometheus.GaugeVec

	// RejectedRows counts staging rows dropped as unwindowable.
	RejectedRows *prometheus.GaugeVec

	// UnmatchedRows counts staging rows without a dimension version.
	UnmatchedRows *prometheus.GaugeVec

	// DependentsResolved and DependentsUnresolved are per dependent table.
	DependentsResolved   *prometheus.GaugeVec
	DependentsUnresolved *prometheus.GaugeVec

	// IDsRenamed is the number of natural ids rewritten by the rename
	// strategy.
	IDsRenamed *prometheus.GaugeVec

	// RunDuration is the wall time of the last run in seconds.
	RunDuration *prometheus.GaugeVec

	// LastSuccess is the unix time of the last committed run.
	LastSuccess *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Recorder{
		registry: reg,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of entity runs by outcome",
		}, []string{"entity", "strategy", "status"}),
		KeysIssued:           gauge("dimension", "keys_issued", "Surrogate keys issued by the last run", "entity"),
		Versions:             gauge("dimension", "versions", "Versions built by the last run", "entity"),
		RejectedRows:         gauge("staging", "rejected_rows", "Staging rows that could not be windowed", "entity"),
		UnmatchedRows:        gauge("staging", "unmatched_rows", "Staging rows without a dimension version", "entity"),
		DependentsResolved:   gauge("dependents", "resolved", "Dependent rows that received a key", "entity", "table"),
		DependentsUnresolved: gauge("dependents", "unresolved", "Dependent rows left without a key", "entity", "table"),
		IDsRenamed:           gauge("rename", "ids_renamed", "Natural ids rewritten by the rename strategy", "entity"),
		RunDuration:          gauge("run", "duration_seconds", "Duration of the last run in seconds", "entity"),
		LastSuccess:          gauge("run", "last_success_timestamp_seconds", "Unix time of the last committed run", "entity"),
	}
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe records one entity report. Dry runs are counted but do not move
// the last success time.
func (r *Recorder) Observe(report *scd.Report, runErr error) {
	if report == nil {
		return
	}

	status := "success"
	switch {
	case runErr != nil:
		status = "failure"
	case report.DryRun:
		status = "dry_run"
	}
	r.RunsTotal.WithLabelValues(report.Entity, report.Strategy, status).Inc()

	r.KeysIssued.WithLabelValues(report.Entity).Set(float64(report.KeysIssued))
	r.Versions.WithLabelValues(report.Entity).Set(float64(report.Versions))
	r.RejectedRows.WithLabelValues(report.Entity).Set(float64(report.Rejected))
	r.UnmatchedRows.WithLabelValues(report.Entity).Set(float64(report.Unmatched))
	r.IDsRenamed.WithLabelValues(report.Entity).Set(float64(report.IDsRenamed))
	r.RunDuration.WithLabelValues(report.Entity).Set(report.Duration().Seconds())

	for _, c := range report.Children {
		r.DependentsResolved.WithLabelValues(report.Entity, c.Table).Set(float64(c.Resolved))
		r.DependentsUnresolved.WithLabelValues(report.Entity, c.Table).Set(float64(c.Unresolved))
	}

	if status == "success" {
		r.LastSuccess.WithLabelValues(report.Entity).Set(float64(report.FinishedAt.Unix()))
	}
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

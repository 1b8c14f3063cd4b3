// Package telemetry provides application-level observability for EchelonID.
//
// All metrics are registered against the default Prometheus registry via
// promauto and exposed on a side-channel HTTP listener started by main (see
// ServeMetrics). The listener is deliberately separate from the report server:
// a batch run that never serves reports can still be scraped mid-run, and the
// scrape path never competes with report traffic.
//
// Label cardinality is bounded by construction — operation names come from the
// fixed joiner/mover/leaver set and outcomes from a small enum, never from
// user-supplied identifiers.
package telemetry

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lifecycle operation outcomes used as metric label values.
const (
	OutcomeApplied   = "applied"
	OutcomeNotFound  = "not_found"
	OutcomeDuplicate = "duplicate"
)

var (
	// LifecycleEventsTotal counts lifecycle engine operations by operation
	// (joiner, mover, leaver) and outcome (applied, not_found, duplicate).
	LifecycleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echelonid_lifecycle_events_total",
			Help: "Lifecycle engine operations processed, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// DirectoryUsers reports the directory's population by status after the
	// most recent run.
	DirectoryUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echelonid_directory_users",
			Help: "Users in the directory after the last run, by status.",
		},
		[]string{"status"},
	)

	// StageDuration measures wall time per orchestrator stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echelonid_stage_duration_seconds",
			Help:    "Wall-clock duration of each run stage.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"stage"},
	)

	// ReportArtifactsTotal counts report artifacts written, by artifact name.
	ReportArtifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echelonid_report_artifacts_total",
			Help: "Report artifacts produced, by artifact name.",
		},
		[]string{"artifact"},
	)

	// AuditEventsTotal counts audit trail events emitted.
	AuditEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "echelonid_audit_events_total",
			Help: "Audit trail events emitted across all runs of this process.",
		},
	)
)

// ObserveStage records the duration of a completed stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ServeMetrics starts the Prometheus scrape endpoint on addr in a background
// goroutine. A panic or listen failure is logged rather than crashing the
// process — metrics are an observability aid, not a run dependency.
func ServeMetrics(addr string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in metrics listener", "panic", r)
			}
		}()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}

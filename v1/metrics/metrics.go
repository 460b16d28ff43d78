// Package metrics holds the tracker's Prometheus collectors. Collectors are
// package level so every component can update them; RegisterCoreMetrics
// exposes them on a registry chosen by the caller.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CommitCounter tracks commit pipeline runs by result
	// (committed, stale, failed).
	CommitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gracelock_commits_total",
		Help: "Total number of cell edit commits",
	}, []string{"result"})
	// FinalizeCounter tracks grace expiries by result
	// (locked, unchanged, skipped, failed).
	FinalizeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gracelock_finalizations_total",
		Help: "Total number of grace timer finalizations",
	}, []string{"result"})
	// ConfirmCounter tracks confirmation dialog transitions by outcome.
	ConfirmCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gracelock_confirmations_total",
		Help: "Total number of confirmation flow transitions",
	}, []string{"outcome"})
	// GraceTimersGauge reports the grace timers held by every session in the
	// process. Registries move it by delta.
	GraceTimersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gracelock_grace_timers",
		Help: "Current number of active grace timers",
	})
	// AuditFailureCounter tracks audit entries that could not be written.
	AuditFailureCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gracelock_audit_failures_total",
		Help: "Total number of audit entries dropped after a write failure",
	})
	// InvalidationCounter tracks invalidations received from other sessions.
	InvalidationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gracelock_invalidations_total",
		Help: "Total number of remote record invalidations applied",
	})
	// DriftCounter tracks projection entries found out of sync with the store.
	DriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gracelock_projection_drift_total",
		Help: "Total number of projection entries that diverged from storage",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers the tracker metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		CommitCounter,
		FinalizeCounter,
		ConfirmCounter,
		GraceTimersGauge,
		AuditFailureCounter,
		InvalidationCounter,
		DriftCounter,
	)
}

// Package observability wires OpenTelemetry tracing and Prometheus metrics.
//
// This file defines the domain-level collectors. HTTP traffic metrics live in
// the middleware package; the counters here track what the tracker actually
// did: administrations recorded by status, co-sign outcomes, offline queue
// flush results, and sweeper activity. Label sets are tiny, fixed enums to
// keep cardinality bounded.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// administrationsRecorded counts persisted administration records by their
	// computed dose status (on_time, late, very_late, missed, skipped, prn).
	administrationsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "administrations_recorded_total",
			Help: "Total administration records persisted, by dose status.",
		},
		[]string{"status"},
	)

	// idempotentReplays counts recording requests answered from a previously
	// persisted record instead of a new insert.
	idempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "administrations_replayed_total",
			Help: "Total recording requests collapsed onto an existing record by idempotency key.",
		},
	)

	// cosignResolutions counts terminal co-sign outcomes: confirmed, expired,
	// or stale (a losing confirmation attempt).
	cosignResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cosign_resolutions_total",
			Help: "Total co-sign request resolutions, by outcome.",
		},
		[]string{"outcome"},
	)

	// queueFlushActions counts offline queue actions by flush result.
	queueFlushActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_queue_actions_total",
			Help: "Total offline queue actions processed by flush, by result.",
		},
		[]string{"result"},
	)

	// sweeperRuns counts completed background sweep iterations.
	sweeperRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweeper_runs_total",
			Help: "Total completed background sweeper iterations.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		administrationsRecorded,
		idempotentReplays,
		cosignResolutions,
		queueFlushActions,
		sweeperRuns,
	)
}

// CountAdministration records a persisted administration by status.
func CountAdministration(status string) { administrationsRecorded.WithLabelValues(status).Inc() }

// CountReplay records an idempotency replay.
func CountReplay() { idempotentReplays.Inc() }

// CountCoSign records a terminal co-sign outcome ("confirmed", "expired", "stale").
func CountCoSign(outcome string) { cosignResolutions.WithLabelValues(outcome).Inc() }

// CountFlushAction records an offline queue action result ("applied", "rejected", "deferred").
func CountFlushAction(result string) { queueFlushActions.WithLabelValues(result).Inc() }

// CountSweep records a completed sweeper iteration.
func CountSweep() { sweeperRuns.Inc() }

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_api_requests_total",
		Help: "Total HTTP requests by method, endpoint, and status code.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brimir_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brimir_api_active_connections",
		Help: "Currently open HTTP connections.",
	})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brimir_db_query_duration_seconds",
		Help:    "Database operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brimir_db_connections_active",
		Help: "Open database connections.",
	})
)

// Domain metrics.
var (
	GateEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_gate_evaluations_total",
		Help: "Compliance gate evaluations by gate type and verdict.",
	}, []string{"gate", "status"})

	CustodyTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_custody_transitions_total",
		Help: "Custody stage transitions by target stage and result.",
	}, []string{"to_stage", "result"})

	AssignmentRecommendationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_assignment_recommendations_total",
		Help: "Assignment recommendations by outcome.",
	}, []string{"outcome"})

	AssignmentConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brimir_assignment_conflicts_total",
		Help: "Assignment applications rejected on a precondition conflict.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brimir_queue_depth",
		Help: "Ready movements waiting for a resource at the last resequence.",
	})

	QueueAtRiskTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_queue_at_risk_total",
		Help: "Movements flagged at risk during resequencing, by flag.",
	}, []string{"flag"})

	ReconcilerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_reconciler_runs_total",
		Help: "Reconciler passes by trigger.",
	}, []string{"trigger"})

	ReconcilerCorrectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_reconciler_corrections_total",
		Help: "Resource status corrections by direction.",
	}, []string{"direction"})

	ReconcilerSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brimir_reconciler_skipped_total",
		Help: "Resources the reconciler could not evaluate and skipped.",
	})
)

// Coordination metrics.
var (
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brimir_leader_election_status",
		Help: "1 when this instance holds the reconciler lease.",
	}, []string{"instance"})

	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_leader_election_changes_total",
		Help: "Leadership acquisitions and losses by instance.",
	}, []string{"instance", "change"})

	IntegrityFindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brimir_integrity_findings_total",
		Help: "Referential integrity findings by type.",
	}, []string{"finding"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

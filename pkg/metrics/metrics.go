package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// PermissionChecks counts server-side permission evaluations (allowed|denied|error).
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_permission_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "result"},
	)

	// OracleLookups counts oracle cache lookups by kind (permission|module) and result (hit|miss|stale).
	OracleLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_oracle_lookups_total",
			Help: "Permission oracle cache lookups",
		},
		[]string{"kind", "result"},
	)

	// OracleFetches counts transport round-trips issued by oracles (ok|error|discarded).
	OracleFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_oracle_fetches_total",
			Help: "Permission oracle transport fetches",
		},
		[]string{"kind", "result"},
	)

	// ActiveOracles tracks the number of live per-session oracles.
	ActiveOracles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casedesk_active_oracles",
			Help: "Number of live session permission oracles",
		},
	)

	// GateDecisions counts navigation gate outcomes by redirect target ("" when allowed).
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casedesk_gate_decisions_total",
			Help: "Route gate decisions",
		},
		[]string{"allowed", "redirect"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "casedesk_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casedesk_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

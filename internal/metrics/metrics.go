// Package metrics declares the Prometheus collectors the core updates,
// grounded on FluxForge's control_plane/observability/metrics.go promauto
// idiom. The HTTP /metrics endpoint that would scrape these is itself part
// of the out-of-scope dashboard API (§1); this package only exposes the
// collectors for whatever external wiring chooses to register them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_task_transitions_total",
		Help: "Task status transitions, by from_status and to_status.",
	}, []string{"from_status", "to_status"})

	LeaseFenceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_lease_fence_failures_total",
		Help: "Lease refresh fence failures, by scope (task, workstream).",
	}, []string{"scope"})

	ParseFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_parser_fallbacks_total",
		Help: "Orchestrator Parser waterfall outcomes by layer and role.",
	}, []string{"layer", "role"})

	ParseEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_parser_escalations_total",
		Help: "Three-strike FALLBACK escalations, by role.",
	}, []string{"role"})

	InvocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "steroids_invocation_duration_seconds",
		Help:    "Provider Adapter invocation wall-clock duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"role", "provider"})

	IncidentsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_incidents_total",
		Help: "Incidents recorded, by failure_mode.",
	}, []string{"failure_mode"})

	CreditPaused = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "steroids_credit_paused",
		Help: "1 while a runner is paused on credit exhaustion, by provider/model/role.",
	}, []string{"provider", "model", "role"})

	WakeupRunnersSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_wakeup_runners_spawned_total",
		Help: "Runner processes spawned by the Wakeup Controller, by project.",
	}, []string{"project"})

	RecoverySweepResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steroids_recovery_sweep_resets_total",
		Help: "Tasks reset or skipped by the recovery sweep, by failure_mode.",
	}, []string{"failure_mode"})
)

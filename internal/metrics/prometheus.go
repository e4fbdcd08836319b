package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished queue executions by language and final status.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_executions_total",
			Help: "Total number of code executions",
		},
		[]string{"language", "status"},
	)

	// ExecutionDuration tracks the duration of code executions in seconds.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_execution_duration_seconds",
			Help:    "Duration of code executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"language"},
	)

	// WorkersActive tracks the number of workers currently running a job.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_workers_active",
			Help: "Number of currently active worker goroutines",
		},
	)

	// SandboxFailures counts sandbox infrastructure failures (not user code errors).
	SandboxFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_sandbox_failures_total",
			Help: "Total number of sandbox infrastructure failures",
		},
		[]string{"reason"},
	)

	// SubmissionsTotal counts gateway submissions by language and outcome.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_submissions_total",
			Help: "Total number of submissions received by the gateway",
		},
		[]string{"language", "outcome"},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// InteractiveProcesses tracks registered interactive executions.
	InteractiveProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_interactive_processes",
			Help: "Number of interactive executions currently registered",
		},
	)

	// InteractiveEvictions counts interactive executions removed by cleanup.
	InteractiveEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_interactive_evictions_total",
			Help: "Total number of interactive executions evicted",
		},
	)

	// InteractiveDroppedEvents counts output chunks dropped from full buffers.
	InteractiveDroppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_interactive_dropped_events_total",
			Help: "Total number of interactive output events dropped",
		},
	)
)

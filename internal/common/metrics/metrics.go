// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeartbeatsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_heartbeats_total",
			Help: "Total number of heartbeats processed by kind and result",
		},
		[]string{"kind", "result"},
	)

	HeartbeatDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_heartbeat_duration_seconds",
			Help:    "Duration of heartbeat processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	HeartbeatConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_heartbeat_version_conflicts_total",
			Help: "Total number of presence saves that lost the version check",
		},
	)

	SessionsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sessions_opened_total",
			Help: "Total number of sessions opened",
		},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_sessions_closed_total",
			Help: "Total number of sessions closed by end reason",
		},
		[]string{"reason"},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_sweep_runs_total",
			Help: "Total number of sweeper ticks by outcome",
		},
		[]string{"outcome"},
	)

	SweepClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sweep_closed_total",
			Help: "Total number of stale presences closed by the sweeper",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_sweep_failures_total",
			Help: "Total number of stale presences the sweeper failed to close",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presence_sweep_duration_seconds",
			Help:    "Duration of a sweeper tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ArchiveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_archive_failures_total",
			Help: "Total number of closed sessions that could not be archived",
		},
	)
)

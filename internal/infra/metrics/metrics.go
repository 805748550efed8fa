// Package metrics provides Prometheus metrics for the agentmesh node:
// admission decisions, tracker occupancy, peers, journal and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Admission ──────────────────────────────────────────────────────────────

// AdmissionsTotal counts admitted connection attempts.
var AdmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "admissions_total",
	Help:      "Total connection attempts admitted by every stage.",
})

// RejectionsTotal counts refused attempts by the stage that refused them.
var RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "admission_rejections_total",
	Help:      "Total connection attempts rejected, by pipeline stage.",
}, []string{"stage"})

// ReleasesTotal counts connections released from the trackers.
var ReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "admission_releases_total",
	Help:      "Total connections released on disconnect.",
})

// ─── Trackers ───────────────────────────────────────────────────────────────

// TrackedConnections tracks the addresses held by the total tracker.
var TrackedConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "tracked_connections",
	Help:      "Addresses currently held by the total connection tracker.",
})

// TrackedSubnets tracks the number of occupied prefixes per prefix length.
var TrackedSubnets = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "tracked_subnets",
	Help:      "Occupied subnets per prefix length.",
}, []string{"prefix"})

// BackoffEntries tracks per-IP backoff records.
var BackoffEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "backoff_entries",
	Help:      "Addresses with per-IP backoff state.",
})

// BlockedAddresses tracks addresses under a session ban.
var BlockedAddresses = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "blocked_addresses",
	Help:      "Addresses blocked for the rest of the process lifetime.",
})

// BackoffCleanups counts entries dropped by the periodic sweep.
var BackoffCleanups = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "backoff_cleanups_total",
	Help:      "Total stale backoff entries removed.",
})

// ─── Peers ──────────────────────────────────────────────────────────────────

// PeersConnected tracks live transport connections.
var PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "peers_connected",
	Help:      "Number of connected peers.",
})

// IdleDisconnects counts connections closed by the idle reaper.
var IdleDisconnects = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "idle_disconnects_total",
	Help:      "Connections closed after exceeding the idle timeout.",
})

// BootstrapDials counts bootstrap dial outcomes.
var BootstrapDials = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "bootstrap_dials_total",
	Help:      "Bootstrap peer dials by result.",
}, []string{"result"})

// ─── Journal ────────────────────────────────────────────────────────────────

// JournalDropped counts events dropped because the writer queue was full.
var JournalDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "journal_dropped_total",
	Help:      "Admission events dropped by a full journal queue.",
})

// JournalWriteLatency tracks batch insert duration.
var JournalWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "agentmesh",
	Name:      "journal_write_seconds",
	Help:      "Admission journal batch write duration.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agentmesh",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentmesh",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

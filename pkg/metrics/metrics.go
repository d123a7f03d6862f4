// Package metrics exposes the agent's observable, single-writer counters
// (§6) as Prometheus metrics, plus a handful of latency histograms for the
// hot paths named in the spec (commit advancement, snapshot take).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ModuleState is the current module-state code (§4.1).
	ModuleState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "concord_module_state",
		Help: "Current consensus module state code (INIT=0 .. CLOSED=6)",
	})

	// ClusterRole is 0=follower, 1=candidate, 2=leader.
	ClusterRole = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "concord_cluster_role",
		Help: "Current cluster role (0=follower, 1=candidate, 2=leader)",
	})

	// CommitPosition is the highest log position known committed.
	CommitPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "concord_commit_position",
		Help: "Highest committed log position",
	})

	// SnapshotCounter counts snapshots taken by this node.
	SnapshotCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "concord_snapshots_total",
		Help: "Total number of snapshots taken",
	})

	// TimedOutClientCounter counts sessions closed for inactivity.
	TimedOutClientCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "concord_timed_out_clients_total",
		Help: "Total number of client sessions closed due to inactivity",
	})

	// InvalidRequestCounter counts rejected/invalid ingress requests.
	InvalidRequestCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "concord_invalid_requests_total",
		Help: "Total number of invalid or rejected ingress requests",
	})

	// ErrorsByKind counts agent errors per §7 kind.
	ErrorsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_errors_total",
		Help: "Total number of agent errors by kind",
	}, []string{"kind"})

	// CommitAdvanceDuration measures update_member_position latency.
	CommitAdvanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "concord_commit_advance_duration_seconds",
		Help:    "Time taken to advance the commit position in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotTakeDuration measures end-to-end snapshot take latency.
	SnapshotTakeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "concord_snapshot_take_duration_seconds",
		Help:    "Time taken to take a snapshot in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		ModuleState,
		ClusterRole,
		CommitPosition,
		SnapshotCounter,
		TimedOutClientCounter,
		InvalidRequestCounter,
		ErrorsByKind,
		CommitAdvanceDuration,
		SnapshotTakeDuration,
	)
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDuration runs fn and records its wall-clock duration against h.
func ObserveDuration(h prometheus.Histogram, fn func()) {
	t := prometheus.NewTimer(h)
	defer t.ObserveDuration()
	fn()
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Plugin host metrics
	PluginsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "databay_plugins_total",
			Help: "Total number of registered plugins by lifecycle state",
		},
		[]string{"state"},
	)

	PluginHandshakeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databay_plugin_handshake_duration_seconds",
			Help:    "Time taken to complete a plugin handshake in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Message bus metrics
	BusDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "databay_bus_dispatch_total",
			Help: "Total number of dispatched messages by type and outcome",
		},
		[]string{"message_type", "outcome"},
	)

	BusDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "databay_bus_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)

	BusQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "databay_bus_queue_depth",
			Help: "Current depth of each dispatch worker queue",
		},
		[]string{"queue"},
	)

	BusRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "databay_bus_retries_total",
			Help: "Total number of dispatch retries issued by the bus",
		},
	)

	// Raft metrics
	RaftIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "databay_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftCurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "databay_raft_current_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "databay_raft_commit_index",
			Help: "Highest Raft log index known to be committed",
		},
	)

	RaftLastApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "databay_raft_last_applied",
			Help: "Highest Raft log index applied to the state machine",
		},
	)

	RaftElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "databay_raft_elections_total",
			Help: "Total number of elections this node has started",
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databay_raft_commit_duration_seconds",
			Help:    "Time from propose to commit for a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databay_raft_apply_duration_seconds",
			Help:    "Time taken to apply a committed Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Storage pool metrics
	PoolObjectsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "databay_pool_objects_total",
			Help: "Total number of distinct content-addressed objects by tier",
		},
		[]string{"tier"},
	)

	PoolBytesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "databay_pool_bytes_total",
			Help: "Total bytes stored by tier",
		},
		[]string{"tier"},
	)

	PoolDedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "databay_pool_dedup_hits_total",
			Help: "Total number of writes short-circuited by content-hash dedup",
		},
	)

	PoolRepairQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "databay_pool_repair_queue_depth",
			Help: "Current depth of the mirror repair queue",
		},
	)

	PoolWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "databay_pool_write_duration_seconds",
			Help:    "Time taken to complete a pool write in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	// ACL metrics
	ACLDenyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "databay_acl_deny_total",
			Help: "Total number of access checks that resolved to deny",
		},
	)

	ACLAllowTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "databay_acl_allow_total",
			Help: "Total number of access checks that resolved to allow",
		},
	)

	// Durable state metrics
	WALAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databay_wal_append_duration_seconds",
			Help:    "Time taken to append and fsync a write-ahead log record in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "databay_snapshot_duration_seconds",
			Help:    "Time taken to write and install a durable-state snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		PluginsTotal,
		PluginHandshakeDuration,
		BusDispatchTotal,
		BusDispatchDuration,
		BusQueueDepth,
		BusRetriesTotal,
		RaftIsLeader,
		RaftCurrentTerm,
		RaftCommitIndex,
		RaftLastApplied,
		RaftElectionsTotal,
		RaftCommitDuration,
		RaftApplyDuration,
		PoolObjectsTotal,
		PoolBytesTotal,
		PoolDedupHitsTotal,
		PoolRepairQueueDepth,
		PoolWriteDuration,
		ACLDenyTotal,
		ACLAllowTotal,
		WALAppendDuration,
		SnapshotDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

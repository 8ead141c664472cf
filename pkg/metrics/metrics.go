package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robustmq_nodes_total",
			Help: "Total number of nodes by role and status",
		},
		[]string{"role", "status"},
	)

	ShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_shards_total",
			Help: "Total number of journal shards",
		},
	)

	SegmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robustmq_segments_total",
			Help: "Total number of journal segments by status",
		},
		[]string{"status"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Journal metrics
	JournalWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_journal_write_duration_seconds",
			Help:    "Time taken to append a record to a segment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JournalReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_journal_read_duration_seconds",
			Help:    "Time taken to read a record range from a segment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JournalWriteBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robustmq_journal_write_bytes_total",
			Help: "Total bytes appended to segments",
		},
	)

	JournalReadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robustmq_journal_read_bytes_total",
			Help: "Total bytes read from segments",
		},
	)

	JournalGCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_journal_gc_duration_seconds",
			Help:    "Time taken for a shard/segment GC cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JournalGCCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robustmq_journal_gc_cycles_total",
			Help: "Total number of GC cycles completed",
		},
	)

	// Subscription / delivery metrics
	SubscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "robustmq_subscriptions_total",
			Help: "Total number of active subscriptions by type",
		},
		[]string{"type"}, // exclusive, share_leader, share_follower
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robustmq_publish_total",
			Help: "Total number of publish operations by QoS and outcome",
		},
		[]string{"qos", "outcome"},
	)

	DeliverTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "robustmq_deliver_total",
			Help: "Total number of message deliveries by QoS and outcome",
		},
		[]string{"qos", "outcome"},
	)

	AckWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "robustmq_ack_wait_duration_seconds",
			Help:    "Time spent waiting for a QoS 1/2 acknowledgement in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetainedMessagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_retained_messages_total",
			Help: "Total number of retained messages held",
		},
	)

	ConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "robustmq_connections_total",
			Help: "Total number of active client connections",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(SegmentsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)

	prometheus.MustRegister(JournalWriteDuration)
	prometheus.MustRegister(JournalReadDuration)
	prometheus.MustRegister(JournalWriteBytesTotal)
	prometheus.MustRegister(JournalReadBytesTotal)
	prometheus.MustRegister(JournalGCDuration)
	prometheus.MustRegister(JournalGCCyclesTotal)

	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(PublishTotal)
	prometheus.MustRegister(DeliverTotal)
	prometheus.MustRegister(AckWaitDuration)
	prometheus.MustRegister(RetainedMessagesTotal)
	prometheus.MustRegister(ConnectionsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

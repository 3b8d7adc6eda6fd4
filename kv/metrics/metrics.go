package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinycc",
			Subsystem: "txn",
			Name:      "commit_total",
			Help:      "Counter of committed transactions.",
		}, []string{"type"})

	AbortCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinycc",
			Subsystem: "txn",
			Name:      "abort_total",
			Help:      "Counter of aborted transactions.",
		}, []string{"type", "reason"})

	PrematureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tinycc",
			Subsystem: "txn",
			Name:      "premature_total",
			Help:      "Counter of operations rejected before the valid epoch of their transaction.",
		})

	LtxWaitPolls = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinycc",
			Subsystem: "txn",
			Name:      "ltx_commit_wait_polls",
			Help:      "Bucketed histogram of the number of commit attempts a long transaction needed.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})

	EpochGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinycc",
			Subsystem: "epoch",
			Name:      "value",
			Help:      "Current global, safe snapshot and durable epochs.",
		}, []string{"type"})

	GCReclaimedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinycc",
			Subsystem: "gc",
			Name:      "reclaimed_total",
			Help:      "Counter of versions and records reclaimed by garbage collection.",
		}, []string{"type"})
)

func init() {
	prometheus.MustRegister(CommitCounter)
	prometheus.MustRegister(AbortCounter)
	prometheus.MustRegister(PrematureCounter)
	prometheus.MustRegister(LtxWaitPolls)
	prometheus.MustRegister(EpochGauge)
	prometheus.MustRegister(GCReclaimedCounter)
}

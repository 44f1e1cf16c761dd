package replication

import "github.com/prometheus/client_golang/prometheus"

// engineMetrics holds metrics related to the replication engine.
type engineMetrics struct {
	commits    prometheus.Counter
	duplicates prometheus.Counter
	rejections *prometheus.CounterVec
	rounds     *prometheus.CounterVec
	cleanups   *prometheus.CounterVec
	recoveries *prometheus.CounterVec
	frontier   prometheus.Gauge
	balance    prometheus.Gauge

	replicateDur prometheus.Histogram
}

func newEngineMetrics() *engineMetrics {
	const (
		namespace = "bank"
		subsystem = "replication"
	)

	return &engineMetrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commits_total",
			Help:      "Number of commands committed and applied to the ledger",
		}),

		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duplicate_commits_total",
			Help:      "Number of commits for commands that were already committed",
		}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tentative_rejections_total",
			Help:      "Number of tentative requests refused by this replica, by reason",
		}, []string{"reason"}),

		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rounds_total",
			Help:      "Number of two-phase rounds run as primary, by outcome",
		}, []string{"outcome"}),

		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cleanups_total",
			Help:      "Number of cleanups run after a promotion, by outcome",
		}, []string{"outcome"}),

		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "recoveries_total",
			Help:      "Number of recoveries run against a primary, by outcome",
		}, []string{"outcome"}),

		frontier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "committed_seq",
			Help:      "Highest sequence number known as committed",
		}),

		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "balance",
			Help:      "Ledger balance after the last applied command",
		}),

		replicateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replicate_duration_seconds",
			Help:      "Histogram of times spent replicating one command as primary",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 5, 7),
		}),
	}
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (m *engineMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commits,
		m.duplicates,
		m.rejections,
		m.rounds,
		m.cleanups,
		m.recoveries,
		m.frontier,
		m.balance,
		m.replicateDur,
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "aborted"
}

package election

import "github.com/prometheus/client_golang/prometheus"

// engineMetrics holds metrics related to the election engine.
type engineMetrics struct {
	rounds    *prometheus.CounterVec
	decisions prometheus.Counter
	decided   prometheus.Gauge
	pending   prometheus.Gauge
	ballot    prometheus.Gauge

	decreeDur prometheus.Histogram
}

func newEngineMetrics() *engineMetrics {
	const (
		namespace = "boney"
		subsystem = "election"
	)

	return &engineMetrics{
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rounds_total",
			Help:      "Number of synod phases run by this node, by phase and outcome",
		}, []string{"phase", "outcome"}),

		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decisions_total",
			Help:      "Number of slot decisions recorded",
		}),

		decided: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decided_slot",
			Help:      "Highest slot decided with no gap below it",
		}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_decrees",
			Help:      "Number of decrees waiting to be run",
		}),

		ballot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ballot",
			Help:      "Current ballot counter",
		}),

		decreeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decree_duration_seconds",
			Help:      "Histogram of times spent deciding one slot",
			Buckets:   prometheus.ExponentialBuckets(1e-3, 5, 7),
		}),
	}
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (m *engineMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.rounds,
		m.decisions,
		m.decided,
		m.pending,
		m.ballot,
		m.decreeDur,
	}
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	TestsStarted   prometheus.Counter
	TestsCompleted prometheus.Counter
	TestsFailed    prometheus.Counter
	QueueDepth     prometheus.Gauge

	RecordsProduced *prometheus.CounterVec
	RecordsConsumed *prometheus.CounterVec
	RecordsSkipped  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testprobe_tests_started_total",
			Help: "Tests dequeued into an execution state machine.",
		}),
		TestsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testprobe_tests_completed_total",
			Help: "Tests that reached the Completed state.",
		}),
		TestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "testprobe_tests_failed_total",
			Help: "Tests that reached the Exception state.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testprobe_queue_depth",
			Help: "Pending submissions in the admission queue.",
		}),
		RecordsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testprobe_records_produced_total",
			Help: "Records produced to Kafka, by topic.",
		}, []string{"topic"}),
		RecordsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testprobe_records_consumed_total",
			Help: "Records retained by consumer streams, by topic.",
		}, []string{"topic"}),
		RecordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "testprobe_records_skipped_total",
			Help: "Records dropped by event filters, by topic.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.TestsStarted, m.TestsCompleted, m.TestsFailed, m.QueueDepth,
		m.RecordsProduced, m.RecordsConsumed, m.RecordsSkipped,
	)
	return m
}

// NopMetrics returns metrics bound to a private registry, for tests and
// for components constructed before wiring.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

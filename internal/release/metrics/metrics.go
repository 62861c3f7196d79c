package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for release evaluation.
type Metrics struct {
	// Decisions by outcome and the check that decided them
	DecisionOutcome *prometheus.CounterVec

	// Epsilon recomputed at the budget check
	Epsilon prometheus.Histogram

	// Store latencies by operation
	StoreLatency *prometheus.HistogramVec

	// Overall evaluation latency
	EvaluateLatency prometheus.Histogram
}

// New registers the release metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecisionOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safemodel_release_decisions_total",
			Help: "Release decisions by outcome and deciding check",
		}, []string{"outcome", "check"}), // outcome: "allowed", "blocked"

		Epsilon: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safemodel_release_epsilon",
			Help:    "Epsilon recomputed during release evaluation",
			Buckets: []float64{0.5, 1, 2, 4, 8, 10, 16, 32, 64, 128},
		}),

		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safemodel_release_store_duration_seconds",
			Help:    "Duration of snapshot store operations during evaluation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}), // op: "put_pre_release", "get_post_fit", "get_provenance"

		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safemodel_release_evaluate_duration_seconds",
			Help:    "Duration of full release evaluation including snapshot I/O",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementOutcome records a decision.
func (m *Metrics) IncrementOutcome(outcome, check string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(outcome, check).Inc()
	}
}

func (m *Metrics) ObserveEpsilon(eps float64) {
	if m != nil {
		m.Epsilon.Observe(eps)
	}
}

func (m *Metrics) ObserveStoreLatency(op string, d time.Duration) {
	if m != nil {
		m.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// ObserveEvaluateLatency records the total evaluation duration.
func (m *Metrics) ObserveEvaluateLatency(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

package optimization

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the optimizer's Prometheus collectors.
type Metrics struct {
	solves      *prometheus.CounterVec
	duration    prometheus.Histogram
	iterations  prometheus.Histogram
	estimations prometheus.Counter
}

// NewMetrics creates the optimizer collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontier",
			Subsystem: "optimizer",
			Name:      "solves_total",
			Help:      "Portfolio solves by outcome (success, infeasible, non_convergent, invalid).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frontier",
			Subsystem: "optimizer",
			Name:      "solve_duration_seconds",
			Help:      "Wall time of a single portfolio solve.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "frontier",
			Subsystem: "optimizer",
			Name:      "solve_iterations",
			Help:      "Active-set iterations used by a solve.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		estimations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontier",
			Subsystem: "optimizer",
			Name:      "estimations_total",
			Help:      "Return matrices turned into expected returns and covariance.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.solves, m.duration, m.iterations, m.estimations)
	}
	return m
}

func (m *Metrics) observeSolve(res Result, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	switch {
	case err != nil:
		m.solves.WithLabelValues("invalid").Inc()
	case res.Success:
		m.solves.WithLabelValues("success").Inc()
		m.iterations.Observe(float64(res.Iterations))
	default:
		m.solves.WithLabelValues(string(res.Failure.Kind)).Inc()
	}
}

func (m *Metrics) observeEstimate() {
	if m == nil {
		return
	}
	m.estimations.Inc()
}

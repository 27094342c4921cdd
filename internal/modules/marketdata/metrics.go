package marketdata

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the dataset cache collectors.
type Metrics struct {
	lookups *prometheus.CounterVec
	fetches *prometheus.CounterVec
}

// NewMetrics creates the dataset collectors and registers them with reg
// when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontier",
			Subsystem: "datasets",
			Name:      "cache_lookups_total",
			Help:      "Dataset cache lookups by result (hit, miss, stale).",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontier",
			Subsystem: "datasets",
			Name:      "fetches_total",
			Help:      "Dataset fetches from price sources by source and outcome.",
		}, []string{"source", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.fetches)
	}
	return m
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) fetch(source string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(source, outcome).Inc()
}

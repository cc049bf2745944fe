package progress

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	expected  prometheus.Gauge
	completed prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		expected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semcontext",
			Subsystem: "progress",
			Name:      "expected_requests",
			Help:      "Window requests expected in the current run.",
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semcontext",
			Subsystem: "progress",
			Name:      "completed_requests",
			Help:      "Window requests completed across runs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.expected, m.completed)
	}
	return m
}

func (m *metrics) set(completed, expected int) {
	if m == nil {
		return
	}
	m.completed.Set(float64(completed))
	m.expected.Set(float64(expected))
}

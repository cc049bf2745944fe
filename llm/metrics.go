package llm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the call orchestrator's Prometheus collectors.
type Metrics struct {
	attempts  *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewMetrics creates and registers the collectors on reg. A nil registerer
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semcontext",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Provider call attempts by outcome.",
		}, []string{"provider", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semcontext",
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Switches to the next provider in a fallback chain.",
		}, []string{"capability", "from", "to"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "semcontext",
			Subsystem: "llm",
			Name:      "exhausted_total",
			Help:      "Logical calls that failed on every provider.",
		}, []string{"capability"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "semcontext",
			Subsystem: "llm",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of individual provider attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semcontext",
			Subsystem: "llm",
			Name:      "in_flight",
			Help:      "Provider calls currently holding a limiter slot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.fallbacks, m.exhausted, m.latency, m.inFlight)
	}
	return m
}

func (m *Metrics) observeAttempt(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, outcome).Inc()
	m.latency.WithLabelValues(provider).Observe(seconds)
}

func (m *Metrics) observeFallback(capability, from, to string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(capability, from, to).Inc()
}

func (m *Metrics) observeExhausted(capability string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(capability).Inc()
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

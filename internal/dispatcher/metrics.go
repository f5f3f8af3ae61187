package dispatcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Event results recorded in dialogpipe_events_total.
const (
	resultProcessed  = "processed"
	resultDuplicate  = "duplicate"
	resultSuppressed = "suppressed"
	resultNoMatch    = "no_match"
	resultError      = "error"
)

// Metrics are the dispatcher's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	events       *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogpipe_events_total",
				Help: "Inbound events by kind and dispatch result",
			},
			[]string{"kind", "result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dialogpipe_step_outcomes_total",
				Help: "Step outcomes by flow",
			},
			[]string{"flow", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dialogpipe_step_duration_seconds",
				Help:    "Time spent executing a step, adapter calls included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"flow"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.outcomes, m.stepDuration)
	}
	return m
}

func (m *Metrics) event(kind, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) outcome(flowID, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(flowID, outcome).Inc()
}

func (m *Metrics) observeStep(flowID string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(flowID).Observe(d.Seconds())
}

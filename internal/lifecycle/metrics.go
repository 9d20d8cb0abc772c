package lifecycle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"escrow/offchain/internal/models"
)

// Metrics counts actions and times their phases. A nil *Metrics records
// nothing.
type Metrics struct {
	actions       *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
	phaseDuration *prometheus.HistogramVec
}

// NewMetrics registers the lifecycle collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "actions_total",
			Help:      "Finished escrow actions by intent and outcome.",
		}, []string{"intent", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "actions_in_flight",
			Help:      "Escrow actions currently between preparing and a terminal state.",
		}, []string{"intent"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "action_phase_duration_seconds",
			Help:      "Time spent in each lifecycle phase.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"intent", "phase"}),
	}
	reg.MustRegister(m.actions, m.inFlight, m.phaseDuration)
	return m
}

func (m *Metrics) started(intent models.Intent) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(intent)).Inc()
}

func (m *Metrics) phase(intent models.Intent, phase models.TransactionStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(string(intent), string(phase)).Observe(d.Seconds())
}

// finished records the outcome: "success" or the error kind
func (m *Metrics) finished(intent models.Intent, outcome string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(intent)).Dec()
	m.actions.WithLabelValues(string(intent), outcome).Inc()
}

// abandoned records an action that ended before it started
func (m *Metrics) abandoned(intent models.Intent) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(intent), "abandoned").Inc()
}

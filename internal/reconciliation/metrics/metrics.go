package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for callback reconciliation.
type Metrics struct {
	Outcomes      *prometheus.CounterVec
	Escalations   *prometheus.CounterVec
	ApplyDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_reconciliation_outcomes_total",
			Help: "Reconciled payment callbacks by outcome",
		}, []string{"outcome"}),
		Escalations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_reconciliation_escalations_total",
			Help: "Callbacks escalated for compensation by kind",
		}, []string{"kind"}),
		ApplyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxoffice_reconciliation_apply_duration_seconds",
			Help:    "Time spent applying one callback",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEscalation(kind string) {
	m.Escalations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveApplyDuration(seconds float64) {
	m.ApplyDuration.Observe(seconds)
}

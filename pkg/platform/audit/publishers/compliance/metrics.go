package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "boxoffice/pkg/platform/audit"
)

type Metrics struct {
	eventsEmitted   *prometheus.CounterVec
	persistFailures prometheus.Counter
	persistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		eventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_audit_events_emitted_total",
			Help: "Audit events persisted, by category",
		}, []string{"category"}),
		persistFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_audit_persist_failures_total",
			Help: "Audit events that failed to persist",
		}),
		persistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxoffice_audit_persist_duration_seconds",
			Help:    "Time to persist an audit event",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(category audit.EventCategory) {
	m.eventsEmitted.WithLabelValues(string(category)).Inc()
}

func (m *Metrics) IncPersistFailures() {
	m.persistFailures.Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	m.persistDuration.Observe(seconds)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions     *prometheus.CounterVec
	StoreFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_ratelimit_decisions_total",
			Help: "Rate limit decisions by scope and outcome (allowed, limited)",
		}, []string{"scope", "outcome"}),
		StoreFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_ratelimit_store_failures_total",
			Help: "Rate limit checks that failed open because the window store errored",
		}),
	}
}

func (m *Metrics) IncDecision(scope, outcome string) {
	m.Decisions.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) IncStoreFailure() {
	m.StoreFailures.Inc()
}

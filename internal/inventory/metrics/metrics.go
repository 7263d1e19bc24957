package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for inventory.
type Metrics struct {
	CacheLookups   *prometheus.CounterVec
	TicketsStocked prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_availability_cache_lookups_total",
			Help: "Availability cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		TicketsStocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_tickets_stocked_total",
			Help: "Ticket instances created by category stocking",
		}),
	}
}

func (m *Metrics) IncCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) AddTicketsStocked(n int) {
	m.TicketsStocked.Add(float64(n))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for the reservation engine.
type Metrics struct {
	Reservations    *prometheus.CounterVec
	TicketsReserved prometheus.Counter
	ReserveLatency  prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Reservations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_reservations_total",
			Help: "Reservation attempts by outcome (reserved, out_of_stock, rejected, error)",
		}, []string{"outcome"}),
		TicketsReserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_tickets_reserved_total",
			Help: "Ticket instances claimed by successful reservations",
		}),
		ReserveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxoffice_reserve_duration_seconds",
			Help:    "Time spent in the reserve unit of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncReservation(outcome string) {
	m.Reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddTicketsReserved(n int) {
	m.TicketsReserved.Add(float64(n))
}

func (m *Metrics) ObserveReserveDuration(seconds float64) {
	m.ReserveLatency.Observe(seconds)
}

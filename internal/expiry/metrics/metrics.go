package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for the expiry sweeper.
type Metrics struct {
	OrdersExpired  prometheus.Counter
	OrdersSkipped  prometheus.Counter
	SweepFailures  prometheus.Counter
	SweepDuration  prometheus.Histogram
	LastSweepStamp prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		OrdersExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_orders_expired_total",
			Help: "Reserved orders expired by the sweeper",
		}),
		OrdersSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_orders_expiry_skipped_total",
			Help: "Expirable orders that left reserved before the sweeper reached them",
		}),
		SweepFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_expiry_sweep_failures_total",
			Help: "Orders the sweeper failed to expire",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxoffice_expiry_sweep_duration_seconds",
			Help:    "Duration of one expiry sweep",
			Buckets: prometheus.DefBuckets,
		}),
		LastSweepStamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "boxoffice_expiry_last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed sweep",
		}),
	}
}

func (m *Metrics) RecordSweep(expired, skipped, failed int, seconds float64, completedAt float64) {
	m.OrdersExpired.Add(float64(expired))
	m.OrdersSkipped.Add(float64(skipped))
	m.SweepFailures.Add(float64(failed))
	m.SweepDuration.Observe(seconds)
	m.LastSweepStamp.Set(completedAt)
}

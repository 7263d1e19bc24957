package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for payment callback intake.
type Metrics struct {
	CallbacksAccepted prometheus.Counter
	CallbacksRejected *prometheus.CounterVec
	PayloadBytes      prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		CallbacksAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "boxoffice_payment_callbacks_accepted_total",
			Help: "Payment callbacks that passed gateway validation",
		}),
		CallbacksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "boxoffice_payment_callbacks_rejected_total",
			Help: "Payment callbacks rejected at the gateway by reason",
		}, []string{"reason"}),
		PayloadBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "boxoffice_payment_callback_payload_bytes",
			Help:    "Size of inbound payment callback bodies",
			Buckets: prometheus.ExponentialBuckets(128, 2, 8),
		}),
	}
}

func (m *Metrics) IncAccepted() {
	m.CallbacksAccepted.Inc()
}

func (m *Metrics) IncRejected(reason string) {
	m.CallbacksRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObservePayloadSize(n int) {
	m.PayloadBytes.Observe(float64(n))
}

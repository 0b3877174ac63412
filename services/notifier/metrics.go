package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics counts webhook deliveries
type DeliveryMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	m := &DeliveryMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suite33",
			Name:      "notifications_delivered_total",
			Help:      "Webhook deliveries by source (live, retry) and outcome.",
		}, []string{"source", "outcome"}),
	}
	reg.MustRegister(m.deliveries)
	return m
}

// Observe records one delivery attempt. A nil receiver is a no-op.
func (m *DeliveryMetrics) Observe(source string, err error) {
	if m == nil {
		return
	}
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	m.deliveries.WithLabelValues(source, outcome).Inc()
}

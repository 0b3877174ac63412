package main

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/suite33/backoffice/shared/utils"
)

// TeardownMetrics counts teardown outcomes
type TeardownMetrics struct {
	outcomes *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewTeardownMetrics(reg prometheus.Registerer) *TeardownMetrics {
	m := &TeardownMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suite33",
			Name:      "business_teardowns_total",
			Help:      "Business teardown attempts by outcome.",
		}, []string{"outcome"}), // success, unauthorized, forbidden, not_found, gone, error
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "suite33",
			Name:      "business_teardown_duration_seconds",
			Help:      "Time spent guarding and tombstoning a business.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.outcomes, m.duration)
	return m
}

// Observe records one attempt. A nil receiver is a no-op.
func (m *TeardownMetrics) Observe(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome(err)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, utils.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, utils.ErrForbidden):
		return "forbidden"
	case errors.Is(err, utils.ErrNotFound):
		return "not_found"
	case errors.Is(err, utils.ErrGone):
		return "gone"
	default:
		return "error"
	}
}

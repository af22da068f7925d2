package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus collectors for the order API and notifier
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	SagaStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_saga_steps_total",
			Help: "Order saga steps by step and outcome",
		},
		[]string{"step", "outcome"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of payment gateway and carrier calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"upstream", "op", "outcome"},
	)

	CarrierTokenRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "carrier_token_refresh_total",
			Help: "Number of carrier authentications performed (cache misses)",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_notifications_total",
			Help: "Order notifications by outcome (queued, dropped, sent, failed, duplicate)",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			SagaStepsTotal,
			UpstreamRequestDuration,
			CarrierTokenRefreshTotal,
			NotificationsTotal,
		)
	})
}

func SagaStep(step, outcome string) {
	SagaStepsTotal.WithLabelValues(step, outcome).Inc()
}

// Package monitoring exposes the Prometheus metrics of the proxy.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts finished ingress requests by route and
	// status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_http_requests_total",
		Help: "Ingress HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes ingress latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antigravity_http_request_duration_seconds",
		Help:    "Ingress HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// HTTPInFlight gauges currently executing ingress requests.
	HTTPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "antigravity_http_in_flight_requests",
		Help: "Ingress HTTP requests currently being served.",
	})

	// QueueWaiting gauges requests parked in the admission queue.
	QueueWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "antigravity_queue_waiting_requests",
		Help: "Requests waiting for an admission slot.",
	})

	// QueueRejectedTotal counts admissions refused by reason.
	QueueRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_queue_rejected_total",
		Help: "Admission rejections by reason.",
	}, []string{"reason"})

	// UpstreamRequestsTotal counts upstream attempts by outcome.
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_upstream_requests_total",
		Help: "Upstream generation attempts by outcome.",
	}, []string{"outcome"})

	// UpstreamRequestDuration observes upstream attempt latency.
	UpstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "antigravity_upstream_request_duration_seconds",
		Help:    "Upstream generation attempt latency.",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// UpstreamRetriesTotal counts credential rotations inside one
	// ingress request.
	UpstreamRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "antigravity_upstream_retries_total",
		Help: "Upstream attempts retried on another credential.",
	})

	// CredentialErrorsTotal counts per-credential failures by class.
	CredentialErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_credential_errors_total",
		Help: "Credential failures by error class.",
	}, []string{"class"})

	// TokenRefreshesTotal counts access token refreshes by result.
	TokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_token_refreshes_total",
		Help: "Access token refreshes by result.",
	}, []string{"result"})
)

// Package metrics holds the Prometheus collectors shared across the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrief_http_requests_total",
			Help: "HTTP requests by method, route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "debrief_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// JobsTotal counts finished jobs. result is "ok", "retry", "failed" or
	// "permanent".
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrief_jobs_total",
			Help: "Background job attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	JobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "debrief_jobs_queued",
		Help: "Jobs waiting in the queue.",
	})

	TranscriptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "debrief_transcription_duration_seconds",
		Help:    "Time spent in the speech-to-text call.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	})

	// RelayTotal counts listener deliveries. result is "delivered",
	// "unreachable" or "rejected".
	RelayTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrief_relay_total",
			Help: "Listener relay attempts by result.",
		},
		[]string{"result"},
	)

	// PushTotal counts web push sends. result is "sent", "expired" or "error".
	PushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "debrief_push_total",
			Help: "Web push sends by result.",
		},
		[]string{"result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Package obs holds the prometheus metrics exported by the bridge.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outbound Bitrix24 metrics.
var (
	BitrixRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "b24bridge_bitrix_requests_total",
			Help: "Outbound Bitrix24 HTTP requests by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)

	BitrixRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "b24bridge_bitrix_request_duration_seconds",
			Help:    "Outbound Bitrix24 request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	BatchRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "b24bridge_batch_requests_total",
		Help: "Batch requests submitted to Bitrix24, one per chunk of up to 50 calls.",
	})

	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "b24bridge_token_refresh_total",
			Help: "OAuth2 refresh-token grants by outcome.",
		},
		[]string{"outcome"},
	)

	PortalPersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "b24bridge_portal_persist_failures_total",
		Help: "Portal credential writes that failed and were dropped.",
	})
)

// Inbound HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "b24bridge_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "b24bridge_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "b24bridge_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		BitrixRequests,
		BitrixRequestDuration,
		BatchRequests,
		TokenRefreshes,
		PortalPersistFailures,
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records in-flight count, totals and latency for every request
// served by next. The route label is the matched ServeMux pattern so path
// parameters such as member ids do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

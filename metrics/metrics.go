// Package metrics exposes Prometheus counters for the HTTP server and for
// lead store, scraping, enrichment and export activity.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	activeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Number of active HTTP connections",
		},
	)

	leadsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_created_total",
			Help: "Total number of leads added to the store",
		},
	)

	leadsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_deduplicated_total",
			Help: "Total number of leads removed by dedupe passes",
		},
	)

	scrapeEngineRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_engine_requests_total",
			Help: "Total number of search engine and profile scrape requests",
		},
		[]string{"engine", "status"},
	)

	emailVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_verifications_total",
			Help: "Total number of email verifications by source",
		},
		[]string{"source"},
	)

	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Total number of lead exports",
		},
		[]string{"format"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, duration and in-flight requests. The
// path label is the chi route pattern so ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		activeConnections.Inc()
		defer activeConnections.Dec()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

func RecordLeadsCreated(n int) {
	if n > 0 {
		leadsCreated.Add(float64(n))
	}
}

func RecordLeadsDeduplicated(n int) {
	if n > 0 {
		leadsDeduplicated.Add(float64(n))
	}
}

// RecordScrape counts one request to a search engine or profile source.
// status is "ok", "empty" or "error".
func RecordScrape(engine, status string) {
	scrapeEngineRequests.WithLabelValues(engine, status).Inc()
}

func RecordEmailVerification(source string) {
	emailVerifications.WithLabelValues(source).Inc()
}

func RecordExport(format string) {
	exportsTotal.WithLabelValues(format).Inc()
}

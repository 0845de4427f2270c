// Package metrics exposes tracking activity as Prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ignite/engagement-tracker/internal/domain"
)

const namespace = "tracking"

// Metrics implements tracking.Observer and the HTTP request middleware.
type Metrics struct {
	registry *prometheus.Registry

	registered      *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	archives        *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every series on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		registered: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_registered_total",
				Help:      "Tracking records created by the content rewriter.",
			},
			[]string{"kind"},
		),
		resolutions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Pixel and link requests by outcome.",
			},
			[]string{"kind", "outcome"}, // outcome: first, repeat, not_found, error
		),
		resolveDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Store time spent resolving a tracking record.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"kind"},
		),
		archives: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_archives_total",
				Help:      "CSV archive uploads by status.",
			},
			[]string{"status"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status_code"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordRegistered counts a newly stored record.
func (m *Metrics) RecordRegistered(kind domain.RecordKind) {
	m.registered.WithLabelValues(string(kind)).Inc()
}

// RecordResolved counts one resolution attempt and its store latency.
func (m *Metrics) RecordResolved(kind domain.RecordKind, outcome string, elapsed time.Duration) {
	m.resolutions.WithLabelValues(string(kind), outcome).Inc()
	m.resolveDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// RecordArchive counts an export upload attempt ("uploaded", "skipped" or "failed").
func (m *Metrics) RecordArchive(status string) {
	m.archives.WithLabelValues(status).Inc()
}

// Push replaces the samples of job on a Prometheus Pushgateway with the
// registry's current values. Short-lived commands call it before exiting.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(m.registry)
	for name, value := range grouping {
		p = p.Grouping(name, value)
	}
	return p.PushContext(ctx)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

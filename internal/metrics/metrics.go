// Package metrics holds the Prometheus collectors for the storefront engine.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "techshelf"

// Metrics owns a registry and the engine's collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	forcedLogouts   prometheus.Counter
	cartMerges      *prometheus.CounterVec
	quantityUpdates *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates a registry with all collectors registered
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of commerce API requests.",
			},
			[]string{"operation", "status"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Duration of commerce API requests.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
			[]string{"operation"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "token_refreshes_total",
				Help:      "Access token refresh attempts.",
			},
			[]string{"result"},
		),
		forcedLogouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "forced_logouts_total",
				Help:      "Sessions ended because the refresh token was rejected.",
			},
		),
		cartMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cart",
				Name:      "merges_total",
				Help:      "Guest cart merge attempts.",
			},
			[]string{"result"},
		),
		quantityUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cart",
				Name:      "quantity_updates_total",
				Help:      "Debounced quantity updates by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "daemon",
				Name:      "requests_total",
				Help:      "Total number of local API requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "daemon",
				Name:      "request_duration_seconds",
				Help:      "Duration of local API requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "path"},
		),
	}

	m.Registry.MustRegister(
		m.apiRequests,
		m.apiDuration,
		m.tokenRefreshes,
		m.forcedLogouts,
		m.cartMerges,
		m.quantityUpdates,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)

	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveAPIRequest records one outbound request. status 0 means no
// response was received.
func (m *Metrics) ObserveAPIRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.apiRequests.WithLabelValues(operation, label).Inc()
	m.apiDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefresh records a token refresh attempt.
func (m *Metrics) RecordRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result(ok)).Inc()
}

// RecordForcedLogout records a session ended by refresh failure.
func (m *Metrics) RecordForcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogouts.Inc()
}

// RecordMerge records a guest cart merge attempt.
func (m *Metrics) RecordMerge(ok bool) {
	if m == nil {
		return
	}
	m.cartMerges.WithLabelValues(result(ok)).Inc()
}

// Quantity update outcomes
const (
	QuantityCommitted  = "committed"
	QuantityRolledBack = "rolled_back"
	QuantityCoalesced  = "coalesced"
)

// RecordQuantityUpdate records the outcome of a debounced quantity change.
func (m *Metrics) RecordQuantityUpdate(outcome string) {
	if m == nil {
		return
	}
	m.quantityUpdates.WithLabelValues(outcome).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath keeps the first two segments so product ids do not become
// label values: /v1/cart/items/prod_1 -> /v1/cart.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

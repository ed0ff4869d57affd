package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	RecalculationsTotal      prometheus.Counter
	PromotionRunsTotal       *prometheus.CounterVec
	IntegrityViolationsTotal prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shiksha_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shiksha_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	recalcs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shiksha_ledger_recalculations_total",
		Help: "Full ledger recalculations triggered by backdated writes.",
	})
	promotions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shiksha_session_promotion_runs_total",
		Help: "Session promotion and revert runs by outcome.",
	}, []string{"operation", "outcome"})
	violations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shiksha_ledger_integrity_violations_total",
		Help: "Ledger entries whose stored balance drifted from the replayed balance.",
	})
	registry.MustRegister(requests, duration, recalcs, promotions, violations)
	return &Metrics{
		registry:                 registry,
		handler:                  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:            requests,
		requestDuration:          duration,
		RecalculationsTotal:      recalcs,
		PromotionRunsTotal:       promotions,
		IntegrityViolationsTotal: violations,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the decision
// engine. All methods are nil-safe so wiring stays optional.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	accessChecks    *prometheus.CounterVec
	roleActivations *prometheus.CounterVec
	sessionsCreated prometheus.Counter
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	accessChecks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_access_checks_total",
		Help: "Access check decisions by result.",
	}, []string{"result"})
	activations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sentra_role_activations_total",
		Help: "Role activation attempts by result.",
	}, []string{"result"})
	sessions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentra_sessions_created_total",
		Help: "Sessions created.",
	})
	registry.MustRegister(requests, duration, accessChecks, activations, sessions)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		accessChecks:    accessChecks,
		roleActivations: activations,
		sessionsCreated: sessions,
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

// ObserveAccessCheck counts one access decision.
func (m *Metrics) ObserveAccessCheck(granted bool) {
	if m == nil {
		return
	}
	m.accessChecks.WithLabelValues(decisionLabel(granted)).Inc()
}

// ObserveActivation counts one role activation attempt.
func (m *Metrics) ObserveActivation(ok bool) {
	if m == nil {
		return
	}
	m.roleActivations.WithLabelValues(decisionLabel(ok)).Inc()
}

// ObserveSessionCreated counts one created session.
func (m *Metrics) ObserveSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func decisionLabel(ok bool) string {
	if ok {
		return "granted"
	}
	return "denied"
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

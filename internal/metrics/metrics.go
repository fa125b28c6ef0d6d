package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mathomhouse/mathom/internal/policy"
)

// Metrics holds all Prometheus collectors for the server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Policy engine metrics.
	PolicyDecisionsTotal *prometheus.CounterVec

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Websocket metrics.
	WebsocketClients prometheus.Gauge

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathom_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mathom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		PolicyDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathom_policy_decisions_total",
			Help: "Total number of authorization decisions.",
		}, []string{"operation", "collection", "outcome"}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathom_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"reason"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mathom_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"method"}),

		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mathom_websocket_clients",
			Help: "Number of currently connected websocket clients.",
		}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mathom_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PolicyDecisionsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.WebsocketClients,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// DecisionHook returns a policy hook that records every authorization decision.
func (m *Metrics) DecisionHook() policy.DecisionHook {
	return func(collection string, op policy.Operation, allowed bool) {
		outcome := "deny"
		if allowed {
			outcome = "allow"
		}
		m.PolicyDecisionsTotal.WithLabelValues(string(op), collection, outcome).Inc()
	}
}

// IncHTTPRequest increments the HTTP request counter.
func (m *Metrics) IncHTTPRequest(method, pattern string, statusCode int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(statusCode)).Inc()
}

// ObserveHTTPDuration records an HTTP request duration.
func (m *Metrics) ObserveHTTPDuration(method, pattern string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(seconds)
}

// IncAuthFailure increments the auth failure counter.
func (m *Metrics) IncAuthFailure(reason string) {
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// IncAuthSuccess increments the auth success counter.
func (m *Metrics) IncAuthSuccess(method string) {
	m.AuthSuccessesTotal.WithLabelValues(method).Inc()
}

// Package observability exposes Prometheus metrics and OpenTelemetry
// tracing for the onboarding server.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/GoCodeAlone/onboarding/crm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry. It
// implements crm.Observer and kyc.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	crmCalls     *prometheus.CounterVec
	crmDuration  *prometheus.HistogramVec
	breakerState prometheus.Gauge
	kycWebhooks  *prometheus.CounterVec
	kycPolls     *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace, which defaults to
// "onboarding".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "onboarding"
	}
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		crmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "calls_total",
			Help:      "CRM calls by method and outcome.",
		}, []string{"method", "outcome"}),
		crmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "call_duration_seconds",
			Help:      "CRM call latency by method.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "crm",
			Name:      "breaker_state",
			Help:      "CRM circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		kycWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kyc",
			Name:      "webhooks_total",
			Help:      "Verification webhooks by outcome.",
		}, []string{"outcome"}),
		kycPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kyc",
			Name:      "status_checks_total",
			Help:      "Verification status polls by returned status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.crmCalls, m.crmDuration, m.breakerState,
		m.kycWebhooks, m.kycPolls,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCRMCall implements crm.Observer.
func (m *Metrics) ObserveCRMCall(method, outcome string, d time.Duration) {
	m.crmCalls.WithLabelValues(method, outcome).Inc()
	if outcome != "breaker_open" {
		m.crmDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

// BreakerChanged records a CRM breaker transition. It matches the
// signature of crm.Breaker.OnStateChange.
func (m *Metrics) BreakerChanged(_, to crm.BreakerState) {
	m.breakerState.Set(float64(to))
}

// WebhookReceived implements kyc.Recorder.
func (m *Metrics) WebhookReceived(outcome string) {
	m.kycWebhooks.WithLabelValues(outcome).Inc()
}

// StatusChecked implements kyc.Recorder.
func (m *Metrics) StatusChecked(status string) {
	m.kycPolls.WithLabelValues(status).Inc()
}

// Middleware records request counts and latency. It must wrap the
// ServeMux directly so the matched route pattern is visible after the
// request is served; unmatched requests are labelled "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

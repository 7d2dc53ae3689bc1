package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the gateway.
type Metrics struct {
	config MetricsConfig

	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inflight        prometheus.Gauge

	// Validation metrics
	validationFailures *prometheus.CounterVec

	// Adapter metrics
	adapterCalls    *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	adapterRetries  *prometheus.CounterVec

	// Circuit breaker metrics
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of gateway requests",
			},
			[]string{"route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of gateway request handling in seconds",
				Buckets:   buckets,
			},
			[]string{"route"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_inflight",
				Help:      "Current number of requests being handled",
			},
		),

		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_failures_total",
				Help:      "Total number of requests rejected by schema validation",
			},
			[]string{"route"},
		),

		adapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_calls_total",
				Help:      "Total number of backend adapter invocations",
			},
			[]string{"backend", "outcome"},
		),
		adapterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "adapter_call_duration_seconds",
				Help:      "Duration of backend adapter invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),
		adapterRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_retries_total",
				Help:      "Total number of backend call retries",
			},
			[]string{"backend"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
			},
			[]string{"backend"},
		),
		breakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"backend", "state"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of canonical errors by kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of client-facing errors by code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.inflight,
		m.validationFailures,
		m.adapterCalls,
		m.adapterDuration,
		m.adapterRetries,
		m.breakerState,
		m.breakerTransitions,
		m.errorsByKind,
		m.errorsByCode,
	)

	return m, nil
}

// Request metrics

// RecordRequest records a completed gateway request.
func (m *Metrics) RecordRequest(route, status string, duration time.Duration) {
	if m.requestsTotal == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RequestStarted increments the in-flight gauge.
func (m *Metrics) RequestStarted() {
	if m.inflight == nil {
		return
	}
	m.inflight.Inc()
}

// RequestFinished decrements the in-flight gauge.
func (m *Metrics) RequestFinished() {
	if m.inflight == nil {
		return
	}
	m.inflight.Dec()
}

// Validation metrics

// RecordValidationFailure records a request rejected by schema validation.
func (m *Metrics) RecordValidationFailure(route string) {
	if m.validationFailures == nil {
		return
	}
	m.validationFailures.WithLabelValues(route).Inc()
}

// Adapter metrics

// RecordAdapterCall records one adapter invocation with its outcome.
func (m *Metrics) RecordAdapterCall(backend, outcome string, duration time.Duration) {
	if m.adapterCalls == nil {
		return
	}
	m.adapterCalls.WithLabelValues(backend, outcome).Inc()
	m.adapterDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordAdapterRetry records a backend call retry.
func (m *Metrics) RecordAdapterRetry(backend string) {
	if m.adapterRetries == nil {
		return
	}
	m.adapterRetries.WithLabelValues(backend).Inc()
}

// Circuit breaker metrics

// SetBreakerState sets the breaker state gauge for a backend.
func (m *Metrics) SetBreakerState(backend string, state float64) {
	if m.breakerState == nil {
		return
	}
	m.breakerState.WithLabelValues(backend).Set(state)
}

// RecordBreakerTransition records a breaker state transition.
func (m *Metrics) RecordBreakerTransition(backend, state string) {
	if m.breakerTransitions == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(backend, state).Inc()
}

// Error metrics

// RecordError records a canonical error by kind and client-facing code.
func (m *Metrics) RecordError(kind, code string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	if code != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// WithRequestContext creates a context enriched with request-specific telemetry:
// a request span, a logger carrying the request, route, and trace fields, and
// the in-flight gauge.
func WithRequestContext(ctx context.Context, route, requestID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRequestSpan(ctx, route, requestID)

	logger := tel.Logger.WithRequestID(requestID).WithRoute(route)
	if id := TraceID(spanCtx); id != "" {
		logger = logger.WithField("trace_id", id)
	}
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RequestStarted()

	return context.WithValue(spanCtx, requestSpanKey{}, span)
}

// requestSpanKey is the context key for request spans.
type requestSpanKey struct{}

// EndRequestContext completes the request context, recording the span outcome.
func EndRequestContext(ctx context.Context, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(requestSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RequestFinished()
}

// RecordCallOperation runs one backend call under a call span. Adapter
// metrics are recorded by the adapter itself, which knows the attempt
// counts and rejection reasons.
func RecordCallOperation(ctx context.Context, call, backend string, fn func(context.Context) error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartCallSpan(ctx, call, backend)
		defer span.End()
	}

	err := fn(ctx)

	if tel != nil {
		if err != nil {
			AddCallEvent(span, call, "call.failed", err.Error())
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}

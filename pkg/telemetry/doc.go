// Package telemetry provides observability instrumentation for the gateway.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring and debugging gateway operations.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "relaygate"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// Handlers and adapters retrieve the logger from the context and enrich it
// with request, route, and call fields:
//
//	logger := telemetry.FromContext(ctx).WithRequestID(id).WithRoute(route)
//	logger.Info("request accepted")
//
// Backend calls are instrumented with RecordCallOperation, which wraps the
// call in a span and records its outcome:
//
//	err := telemetry.RecordCallOperation(ctx, "tax", "tax-service", func(ctx context.Context) error {
//	    return invoke(ctx)
//	})
package telemetry

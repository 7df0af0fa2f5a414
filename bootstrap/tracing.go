package bootstrap

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// InitTracing installs the global tracer provider the AI gateway spans are
// recorded against. No exporter is wired by default; deployments that want
// spans shipped somewhere attach one via the standard OTEL env variables
// and a collector sidecar.
func InitTracing(sugar *zap.SugaredLogger) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("aegis"),
	)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	sugar.Debug("Tracer provider installed")
	return tp
}

// ShutdownTracing flushes and stops the tracer provider.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider, sugar *zap.SugaredLogger) {
	if tp == nil {
		return
	}
	if err := tp.Shutdown(ctx); err != nil {
		sugar.Warnw("Failed to shut down tracer provider", "error", err)
	}
}

// Package tracing wraps go.opentelemetry.io/otel to produce one span per
// Orchestrator state-machine transition, tagged with the package's
// remote_id and stage name. No exporter is wired by default — the
// process runs with the no-op tracer provider unless an embedder calls
// SetProvider with a real one.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/otherjamesbrown/metacam-ingest"

// SetProvider installs tp as the global OpenTelemetry tracer provider.
// Call this once at startup when OTEL_TRACING_ENABLED is set and a
// concrete exporter has been configured; otherwise spans are recorded
// against the default no-op provider.
func SetProvider(tp trace.TracerProvider) {
	otel.SetTracerProvider(tp)
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartStage starts a span named "stage.<name>" carrying remote_id and
// stage attributes, returning the derived context and a finish func.
// Callers should always invoke the returned func, typically via defer.
func StartStage(ctx context.Context, remoteID, stage string) (context.Context, func(err error)) {
	spanCtx, span := tracer().Start(ctx, "stage."+stage, trace.WithAttributes(
		attribute.String("remote_id", remoteID),
		attribute.String("stage", stage),
	))
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/horros/types"
)

// StartRun starts the root span for one discovery run
func StartRun(ctx context.Context, tracer trace.Tracer, provider string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("provider", provider),
		),
	)
}

// EndRun ends the run span with the final counters
func EndRun(span trace.Span, stats types.RunStats) {
	span.SetAttributes(
		attribute.Int("scopes.planned", stats.ScopesPlanned),
		attribute.Int("scopes.failed", stats.ScopesFailed),
		attribute.Int("instances.found", stats.Found),
		attribute.Int("instances.filtered", stats.Filtered),
		attribute.Int("instances.skipped", stats.SkippedRecords+stats.SkippedPolicy),
		attribute.Int64("api.calls", stats.APICalls),
	)
	span.End()
}

// StartScope starts a span for one scope query
func StartScope(ctx context.Context, tracer trace.Tracer, scope types.ScanScope) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scope",
		trace.WithAttributes(
			attribute.String("provider", scope.Provider),
			attribute.String("scope", scope.String()),
		),
	)
}

// EndScope ends a scope span with its outcome
func EndScope(span trace.Span, found int, err error) {
	span.SetAttributes(attribute.Int("instances.found", found))
	if err != nil {
		RecordError(span, err.Error(), "scope_query")
	}
	span.End()
}

// RecordError records an error in a span
func RecordError(span trace.Span, errorMessage string, errorType string) {
	span.SetAttributes(
		attribute.String("error.message", errorMessage),
		attribute.String("error.type", errorType),
		attribute.Bool("error.occurred", true),
	)
}

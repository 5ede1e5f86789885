package telemetry

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/horros/types"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	// Skip if no context
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	// Extract span from context
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	// Add trace context to log
	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

var consoleMode atomic.Bool

// UseConsoleWriter switches loggers built after this call to
// human-readable console output. Set once at startup.
func UseConsoleWriter(on bool) {
	consoleMode.Store(on)
}

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	if consoleMode.Load() {
		return NewConsoleLogger(component, zerolog.GlobalLevel())
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewConsoleLogger creates a logger with human-readable output for
// interactive runs.
func NewConsoleLogger(component string, level zerolog.Level) *Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Info().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

// Helper to convert OTEL attributes to zerolog fields
func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.AsString())
	}
}

// Convenience methods for discovery runs

func (l *Logger) LogScopeDone(ctx context.Context, scope types.ScanScope, found int, durationMS float64) {
	l.WithContext(ctx).Info().
		Str("provider", scope.Provider).
		Str("scope", scope.String()).
		Int("found", found).
		Float64("duration_ms", durationMS).
		Msg("scope scan complete")
}

func (l *Logger) LogScopeFailure(ctx context.Context, scope types.ScanScope, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("provider", scope.Provider).
		Str("scope", scope.String()).
		Msg("scope scan failed, continuing without it")
}

func (l *Logger) LogRecordSkipped(ctx context.Context, scope types.ScanScope, id string, reason string) {
	l.WithContext(ctx).Warn().
		Str("provider", scope.Provider).
		Str("scope", scope.String()).
		Str("instance_id", id).
		Str("reason", reason).
		Msg("dropped malformed instance record")
}

func (l *Logger) LogRunSummary(ctx context.Context, stats types.RunStats) {
	l.WithContext(ctx).Info().
		Str("provider", stats.Provider).
		Int("scopes_planned", stats.ScopesPlanned).
		Int("scopes_failed", stats.ScopesFailed).
		Int("found", stats.Found).
		Int("filtered", stats.Filtered).
		Int("skipped_records", stats.SkippedRecords).
		Int("skipped_policy", stats.SkippedPolicy).
		Int64("api_calls", stats.APICalls).
		Dur("duration", stats.Duration()).
		Msg("run complete")
}

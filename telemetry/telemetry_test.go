package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yairfalse/horros/types"
)

func TestOTELHook_Run(t *testing.T) {
	tests := getOTELHookTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runOTELHookTest(t, tt)
		})
	}
}

// getOTELHookTestCases returns test cases for OTEL hook
func getOTELHookTestCases() []struct {
	name        string
	setupCtx    func() context.Context
	expectTrace bool
	expectSpan  bool
} {
	return []struct {
		name        string
		setupCtx    func() context.Context
		expectTrace bool
		expectSpan  bool
	}{
		{
			name: "no context",
			setupCtx: func() context.Context {
				return nil
			},
			expectTrace: false,
			expectSpan:  false,
		},
		{
			name: "context without span",
			setupCtx: func() context.Context {
				return context.Background()
			},
			expectTrace: false,
			expectSpan:  false,
		},
		{
			name: "context with valid span",
			setupCtx: func() context.Context {
				return createContextWithSpan()
			},
			expectTrace: true,
			expectSpan:  true,
		},
	}
}

// createContextWithSpan creates a context with tracing span
func createContextWithSpan() context.Context {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	ctx, _ := tracer.Start(context.Background(), "test-span")
	return ctx
}

// runOTELHookTest executes a single OTEL hook test
func runOTELHookTest(t *testing.T, tt struct {
	name        string
	setupCtx    func() context.Context
	expectTrace bool
	expectSpan  bool
}) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	hook := OTELHook{}
	event := logger.Info().Ctx(tt.setupCtx())

	hook.Run(event, zerolog.InfoLevel, "test message")
	event.Msg("test")

	verifyOTELOutput(t, buf.String(), tt.expectTrace, tt.expectSpan)
}

// verifyOTELOutput checks if output contains expected trace/span IDs
func verifyOTELOutput(t *testing.T, output string, expectTrace, expectSpan bool) {
	if expectTrace {
		assert.Contains(t, output, "trace_id")
	} else {
		assert.NotContains(t, output, "trace_id")
	}

	if expectSpan {
		assert.Contains(t, output, "span_id")
	} else {
		assert.NotContains(t, output, "span_id")
	}
}

func TestOTELHook_ErrorLevel(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	hook := OTELHook{}
	event := logger.Error().Ctx(ctx)

	hook.Run(event, zerolog.ErrorLevel, "error message")
	event.Msg("test error")

	// Verify span status was set to error
	span.End()
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "error message", spans[0].Status.Description)
}

func TestNewLogger(t *testing.T) {
	// Redirect stderr to capture output
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w

	logger := NewLogger("test-service")

	// Write a test message
	logger.Info().Msg("test message")

	// Close writer and restore stderr
	_ = w.Close()
	os.Stderr = oldStderr

	// Read captured output
	buf := make([]byte, 1024)
	n, _ := r.Read(buf)
	output := string(buf[:n])

	assert.NotNil(t, logger)
	assert.Contains(t, output, "test-service")
	assert.Contains(t, output, "test message")
}

func TestLogger_WithContext(t *testing.T) {
	logger := NewLogger("test-service")
	ctx := context.Background()

	contextLogger := logger.WithContext(ctx)
	assert.NotNil(t, contextLogger)
}

func TestLogger_LogSpanStart(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	attrs := []attribute.KeyValue{
		attribute.String("test.key", "test.value"),
		attribute.Int("test.count", 42),
	}

	logger.LogSpanStart(ctx, "test-span", attrs...)

	output := buf.String()
	assert.Contains(t, output, "span started")
	assert.Contains(t, output, "test-span")
	assert.Contains(t, output, "test.value")
	assert.Contains(t, output, "42")
}

func TestLogger_LogSpanEnd(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		expectError bool
		expectDebug bool
	}{
		{
			name:        "successful span",
			err:         nil,
			expectError: false,
			expectDebug: true,
		},
		{
			name:        "failed span",
			err:         assert.AnError,
			expectError: true,
			expectDebug: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := &Logger{Logger: zerolog.New(&buf)}
			ctx := context.Background()

			logger.LogSpanEnd(ctx, "test-span", tt.err)

			output := buf.String()
			assert.Contains(t, output, "test-span")

			if tt.expectError {
				assert.Contains(t, output, "span failed")
				assert.Contains(t, output, "level\":\"error")
			} else {
				assert.Contains(t, output, "span completed")
				assert.Contains(t, output, "level\":\"debug")
			}
		})
	}
}

func TestAddAttributeToEvent(t *testing.T) {
	tests := []struct {
		name     string
		attr     attribute.KeyValue
		expected string
	}{
		{
			name:     "string attribute",
			attr:     attribute.String("key", "value"),
			expected: "\"key\":\"value\"",
		},
		{
			name:     "int64 attribute",
			attr:     attribute.Int64("count", 42),
			expected: "\"count\":42",
		},
		{
			name:     "float64 attribute",
			attr:     attribute.Float64("rate", 3.14),
			expected: "\"rate\":3.14",
		},
		{
			name:     "bool attribute",
			attr:     attribute.Bool("enabled", true),
			expected: "\"enabled\":true",
		},
		{
			name:     "int attribute (converted to int64)",
			attr:     attribute.Int("size", 100),
			expected: "\"size\":100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			event := logger.Info()

			event = addAttributeToEvent(event, tt.attr)
			event.Msg("test")

			output := buf.String()
			assert.Contains(t, output, tt.expected)
		})
	}
}

func TestLogger_ScopeEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{Logger: zerolog.New(&buf)}
	ctx := context.Background()

	scope := types.ScanScope{
		Provider: "aws",
		ID:       "us-east-1",
	}

	// Test LogScopeDone
	logger.LogScopeDone(ctx, scope, 12, 842.5)
	assert.Contains(t, buf.String(), "scope scan complete")
	assert.Contains(t, buf.String(), "us-east-1")
	assert.Contains(t, buf.String(), "12")
	assert.Contains(t, buf.String(), "842.5")

	buf.Reset()

	// Test LogScopeFailure
	logger.LogScopeFailure(ctx, scope, errors.New("throttled"))
	assert.Contains(t, buf.String(), "scope scan failed")
	assert.Contains(t, buf.String(), "throttled")
	assert.Contains(t, buf.String(), "level\":\"warn")

	buf.Reset()

	// Test LogRecordSkipped
	logger.LogRecordSkipped(ctx, scope, "i-0abc", "missing launch time")
	assert.Contains(t, buf.String(), "dropped malformed instance record")
	assert.Contains(t, buf.String(), "i-0abc")
	assert.Contains(t, buf.String(), "missing launch time")

	buf.Reset()

	// Test LogRunSummary
	stats := types.RunStats{
		Provider:      "aws",
		ScopesPlanned: 4,
		ScopesFailed:  1,
		Found:         20,
		Filtered:      9,
		APICalls:      31,
	}
	logger.LogRunSummary(ctx, stats)
	assert.Contains(t, buf.String(), "run complete")
	assert.Contains(t, buf.String(), "\"scopes_planned\":4")
	assert.Contains(t, buf.String(), "\"filtered\":9")
}

func TestConfig_Defaults(t *testing.T) {
	// Clear environment variables
	oldEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	defer func() {
		if oldEndpoint != "" {
			_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", oldEndpoint)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{}

	// InitOTEL should succeed even without OTLP endpoint (Prometheus exporter works)
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)
	assert.NotNil(t, PrometheusRegistry)

	// Cleanup
	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

func TestConfig_EnvironmentVariable(t *testing.T) {
	// Set environment variable
	testEndpoint := "test.example.com:4317"
	_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", testEndpoint)
	defer func() { _ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT") }()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{}

	// InitOTEL should succeed with env var endpoint
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Cleanup
	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

func TestServiceNameDefault(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	cfg := Config{
		OTELEndpoint: "localhost:4317",
		Insecure:     true,
	}

	// InitOTEL should succeed and use default service name
	shutdown, err := InitOTEL(ctx, cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	// Cleanup
	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

func TestInitScanMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	m, err := InitScanMetrics(meter)
	require.NoError(t, err)

	assert.NotNil(t, m.ScopesScanned)
	assert.NotNil(t, m.ScopesFailed)
	assert.NotNil(t, m.InstancesFound)
	assert.NotNil(t, m.InstancesFiltered)
	assert.NotNil(t, m.InstancesSkipped)
	assert.NotNil(t, m.APICalls)
	assert.NotNil(t, m.RunRecords)
	assert.NotNil(t, m.RunDiskGB)
	assert.NotNil(t, m.ConsecutiveFail)
	assert.NotNil(t, m.ScanDuration)
}

func TestScanMetrics_RecordRun(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	m, err := InitScanMetrics(meter)
	require.NoError(t, err)

	started := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stats := types.RunStats{
		Provider:       "aws",
		ScopesPlanned:  4,
		ScopesFailed:   1,
		Found:          12,
		Filtered:       7,
		SkippedRecords: 2,
		SkippedPolicy:  3,
		APICalls:       40,
		StartedAt:      started,
		FinishedAt:     started.Add(90 * time.Second),
	}

	ctx := context.Background()
	m.RecordRun(ctx, stats, 7, 350)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	scanned, ok := findMetric(rm, "horros.scopes.scanned.total")
	require.True(t, ok, "scopes scanned counter not found")
	assert.Equal(t, int64(3), sumInt64(t, scanned))

	skipped, ok := findMetric(rm, "horros.instances.skipped.total")
	require.True(t, ok, "skipped counter not found")
	sum, isSum := skipped.Data.(metricdata.Sum[int64])
	require.True(t, isSum, "expected Sum, got %T", skipped.Data)
	// One data point per skip reason
	assert.Len(t, sum.DataPoints, 2)
	assert.Equal(t, int64(5), sumInt64(t, skipped))

	calls, ok := findMetric(rm, "horros.api.calls.total")
	require.True(t, ok, "api calls counter not found")
	assert.Equal(t, int64(40), sumInt64(t, calls))

	records, ok := findMetric(rm, "horros.run.records")
	require.True(t, ok, "run records gauge not found")
	gauge, isGauge := records.Data.(metricdata.Gauge[int64])
	require.True(t, isGauge, "expected Gauge, got %T", records.Data)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)

	disk, ok := findMetric(rm, "horros.run.disk.gb")
	require.True(t, ok, "disk gauge not found")
	diskGauge, isGauge := disk.Data.(metricdata.Gauge[int64])
	require.True(t, isGauge, "expected Gauge, got %T", disk.Data)
	require.Len(t, diskGauge.DataPoints, 1)
	assert.Equal(t, int64(350), diskGauge.DataPoints[0].Value)

	duration, ok := findMetric(rm, "horros.scan.duration.seconds")
	require.True(t, ok, "duration histogram not found")
	hist, isHist := duration.Data.(metricdata.Histogram[float64])
	require.True(t, isHist, "expected Histogram, got %T", duration.Data)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, 90.0, hist.DataPoints[0].Sum)
}

func TestScanMetrics_RecordConsecutiveFailures(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("test")

	m, err := InitScanMetrics(meter)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordConsecutiveFailures(ctx, "oci", 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	streak, ok := findMetric(rm, "horros.run.failures.consecutive")
	require.True(t, ok, "failure streak gauge not found")
	gauge, isGauge := streak.Data.(metricdata.Gauge[int64])
	require.True(t, isGauge, "expected Gauge, got %T", streak.Data)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value)
}

// findMetric locates a metric by name in collected resource metrics
func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// sumInt64 totals all data points of an int64 counter
func sumInt64(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum, got %T", m.Data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRunSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")

	ctx := context.Background()
	_, span := StartRun(ctx, tracer, "aws")
	EndRun(span, types.RunStats{
		ScopesPlanned: 4,
		ScopesFailed:  1,
		Found:         12,
		Filtered:      7,
		APICalls:      40,
	})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "run", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("provider", "aws"))
	assert.Contains(t, spans[0].Attributes, attribute.Int("scopes.planned", 4))
	assert.Contains(t, spans[0].Attributes, attribute.Int("instances.filtered", 7))
}

func TestScopeSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")

	scope := types.ScanScope{Provider: "azure", ID: "sub-1", Label: "prod"}

	ctx := context.Background()
	_, span := StartScope(ctx, tracer, scope)
	EndScope(span, 0, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "scope", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("scope", "prod"))
	assert.Contains(t, spans[0].Attributes, attribute.Bool("error.occurred", true))
	assert.Contains(t, spans[0].Attributes, attribute.String("error.message", "boom"))
}

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/horros/types"
)

// ScanMetrics holds all discovery run metrics
type ScanMetrics struct {
	// Counters
	ScopesScanned     metric.Int64Counter
	ScopesFailed      metric.Int64Counter
	InstancesFound    metric.Int64Counter
	InstancesFiltered metric.Int64Counter
	InstancesSkipped  metric.Int64Counter
	APICalls          metric.Int64Counter

	// Gauges
	RunRecords      metric.Int64Gauge
	RunDiskGB       metric.Int64Gauge
	ConsecutiveFail metric.Int64Gauge

	// Histograms
	ScanDuration metric.Float64Histogram
}

// InitScanMetrics initializes all discovery run metrics
func InitScanMetrics(meter metric.Meter) (*ScanMetrics, error) {
	m := &ScanMetrics{}

	if err := m.initCounters(meter); err != nil {
		return nil, err
	}

	if err := m.initGauges(meter); err != nil {
		return nil, err
	}

	if err := m.initHistograms(meter); err != nil {
		return nil, err
	}

	return m, nil
}

// initCounters initializes counter metrics
func (m *ScanMetrics) initCounters(meter metric.Meter) error {
	var err error

	m.ScopesScanned, err = meter.Int64Counter(
		"horros.scopes.scanned.total",
		metric.WithDescription("Total number of scopes scanned successfully"),
		metric.WithUnit("scopes"),
	)
	if err != nil {
		return err
	}

	m.ScopesFailed, err = meter.Int64Counter(
		"horros.scopes.failed.total",
		metric.WithDescription("Total number of scope queries that failed"),
		metric.WithUnit("scopes"),
	)
	if err != nil {
		return err
	}

	m.InstancesFound, err = meter.Int64Counter(
		"horros.instances.found.total",
		metric.WithDescription("Total number of stopped instances discovered"),
		metric.WithUnit("instances"),
	)
	if err != nil {
		return err
	}

	m.InstancesFiltered, err = meter.Int64Counter(
		"horros.instances.filtered.total",
		metric.WithDescription("Total number of instances past the age threshold"),
		metric.WithUnit("instances"),
	)
	if err != nil {
		return err
	}

	m.InstancesSkipped, err = meter.Int64Counter(
		"horros.instances.skipped.total",
		metric.WithDescription("Total number of instances dropped before reporting"),
		metric.WithUnit("instances"),
	)
	if err != nil {
		return err
	}

	m.APICalls, err = meter.Int64Counter(
		"horros.api.calls.total",
		metric.WithDescription("Total number of cloud API calls issued"),
		metric.WithUnit("calls"),
	)
	if err != nil {
		return err
	}

	return nil
}

// initGauges initializes gauge metrics
func (m *ScanMetrics) initGauges(meter metric.Meter) error {
	var err error

	m.RunRecords, err = meter.Int64Gauge(
		"horros.run.records",
		metric.WithDescription("Number of records in the most recent report"),
		metric.WithUnit("records"),
	)
	if err != nil {
		return err
	}

	m.RunDiskGB, err = meter.Int64Gauge(
		"horros.run.disk.gb",
		metric.WithDescription("Total disk GB attached to reported instances in the most recent run"),
		metric.WithUnit("GiB"),
	)
	if err != nil {
		return err
	}

	m.ConsecutiveFail, err = meter.Int64Gauge(
		"horros.run.failures.consecutive",
		metric.WithDescription("Number of consecutive runs that ended in error"),
		metric.WithUnit("runs"),
	)
	if err != nil {
		return err
	}

	return nil
}

// initHistograms initializes histogram metrics
func (m *ScanMetrics) initHistograms(meter metric.Meter) error {
	var err error

	m.ScanDuration, err = meter.Float64Histogram(
		"horros.scan.duration.seconds",
		metric.WithDescription("Time taken to complete a discovery run"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordRun records the counters and gauges for one finished run.
// Skipped instances carry a reason attribute so malformed records and
// policy exclusions stay distinguishable.
func (m *ScanMetrics) RecordRun(ctx context.Context, stats types.RunStats, records int, totalDiskGB int) {
	provider := attribute.String("provider", stats.Provider)

	m.ScopesScanned.Add(ctx, int64(stats.ScopesSucceeded()),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.ScopesFailed.Add(ctx, int64(stats.ScopesFailed),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.InstancesFound.Add(ctx, int64(stats.Found),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.InstancesFiltered.Add(ctx, int64(stats.Filtered),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.InstancesSkipped.Add(ctx, int64(stats.SkippedRecords),
		metric.WithAttributeSet(attribute.NewSet(provider,
			attribute.String("reason", "malformed"))))
	m.InstancesSkipped.Add(ctx, int64(stats.SkippedPolicy),
		metric.WithAttributeSet(attribute.NewSet(provider,
			attribute.String("reason", "policy"))))
	m.APICalls.Add(ctx, stats.APICalls,
		metric.WithAttributeSet(attribute.NewSet(provider)))

	m.ScanDuration.Record(ctx, stats.Duration().Seconds(),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.RunRecords.Record(ctx, int64(records),
		metric.WithAttributeSet(attribute.NewSet(provider)))
	m.RunDiskGB.Record(ctx, int64(totalDiskGB),
		metric.WithAttributeSet(attribute.NewSet(provider)))
}

// RecordConsecutiveFailures records the daemon's failure streak
func (m *ScanMetrics) RecordConsecutiveFailures(ctx context.Context, provider string, streak int64) {
	m.ConsecutiveFail.Record(ctx, streak,
		metric.WithAttributeSet(attribute.NewSet(
			attribute.String("provider", provider),
		)),
	)
}

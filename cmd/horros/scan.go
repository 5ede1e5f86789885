package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yairfalse/horros/config"
	"github.com/yairfalse/horros/internal/runner"
	"github.com/yairfalse/horros/report"
	"github.com/yairfalse/horros/telemetry"
)

// ScanCommand implements the 'horros scan' command
type ScanCommand struct {
	Config *config.Config
	Top    int
	Format string
}

// Run executes one discovery run and renders the result to stdout.
func (cmd *ScanCommand) Run(ctx context.Context) error {
	cfg := cmd.Config

	if cmd.Format == "table" {
		fmt.Printf("🔍 Scanning %s for stopped instances...\n\n", cfg.Provider)
	}

	cleanup, metrics := initTelemetry(ctx)
	defer cleanup()

	r, err := runner.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	if metrics != nil {
		r.WithMetrics(metrics)
	}

	result, err := r.Run(ctx)
	if err != nil {
		return err
	}

	return cmd.render(result)
}

// render writes the run result to stdout in the selected format.
func (cmd *ScanCommand) render(result *runner.Result) error {
	meta := report.Meta{
		Provider: result.Provider,
		Label:    result.Label,
		Basis:    result.Basis,
		Stats:    result.RunStats,
	}

	switch cmd.Format {
	case "json":
		return report.RenderJSON(os.Stdout, result.Records, result.Stats, meta)
	case "csv":
		return report.RenderCSV(os.Stdout, result.Records, result.Basis)
	}

	fmt.Println(report.Summary(result.Records, result.Stats, meta))

	if len(result.Records) > 0 {
		fmt.Println(report.Table(result.Records, result.Basis, cmd.Top))
	}
	if len(result.Excluded) > 0 {
		fmt.Printf("🛡️  Excluded by policy: %d instances\n", len(result.Excluded))
	}
	if result.Files.CSV != "" {
		fmt.Printf("\n💾 Reports:\n")
		fmt.Printf("   CSV:  %s\n", result.Files.CSV)
		fmt.Printf("   HTML: %s\n", result.Files.HTML)
	}
	return nil
}

// initTelemetry wires OTEL export for one-shot runs only when an OTLP
// endpoint is configured. Without one the scan emits nothing.
func initTelemetry(ctx context.Context) (func(), *telemetry.ScanMetrics) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func() {}, nil
	}

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "horros",
		ServiceVersion: version,
		Environment:    os.Getenv("HORROS_ENVIRONMENT"),
		Insecure:       true, // local collectors rarely speak TLS
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Telemetry initialization failed: %v\n", err)
		return func() {}, nil
	}

	metrics, err := telemetry.InitScanMetrics(telemetry.Meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Metric setup failed: %v\n", err)
		metrics = nil
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %v\n", err)
		}
	}, metrics
}

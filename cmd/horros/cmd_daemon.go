package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/horros/internal/daemon"
	"github.com/yairfalse/horros/internal/runner"
	"github.com/yairfalse/horros/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Scan on an interval and export metrics",
	Long: `Run horros as a long-lived daemon that rescans the configured
provider on an interval.

Every cycle writes fresh reports, appends to the run journal, and
updates Prometheus metrics. Health is served on /healthz and flips to
degraded after three consecutive failed cycles.`,
	Example: `  horros daemon --provider aws                 # Scan every 6 hours
  horros daemon --provider oci --interval 1h   # Hourly
  horros daemon --metrics-addr :9090           # Custom metrics port`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	addScanFlags(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 6*time.Hour, "Scan interval")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Metrics and health listen address")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyScanFlags(cfg, cmd)
	if cmd.Flags().Changed("interval") {
		cfg.Daemon.Interval = daemonInterval
	}
	if daemonMetricsAddr != "" {
		cfg.Daemon.MetricsAddr = daemonMetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg, true)

	ctx := cmd.Context()

	// The daemon always serves Prometheus metrics; OTLP ships too when
	// an endpoint is configured.
	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "horros",
		ServiceVersion: version,
		Environment:    os.Getenv("HORROS_ENVIRONMENT"),
		OTELEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	metrics, err := telemetry.InitScanMetrics(telemetry.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	journalDir := filepath.Join(cfg.OutputDir, "journal")

	r, err := runner.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	r.WithJournal(journalDir).WithMetrics(metrics)

	d, err := daemon.NewDaemon(daemon.Config{
		Provider:    cfg.Provider,
		Interval:    cfg.Daemon.Interval,
		MetricsAddr: cfg.Daemon.MetricsAddr,
		JournalDir:  journalDir,
	}, r)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	defer func() { _ = d.Close() }()
	d.WithMetrics(metrics)

	fmt.Printf("🚀 Starting horros daemon...\n")
	fmt.Printf("   Provider: %s\n", cfg.Provider)
	fmt.Printf("   Interval: %s\n", cfg.Daemon.Interval)
	fmt.Printf("📊 Metrics: http://%s/metrics\n", d.MetricsAddr())
	fmt.Printf("💚 Health: http://%s/healthz\n\n", d.MetricsAddr())

	fmt.Println("✨ Daemon running (Ctrl+C to stop)...")
	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	fmt.Println("\n👋 Daemon stopped")
	return nil
}

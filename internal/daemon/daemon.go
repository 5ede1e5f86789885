// Package daemon runs discovery cycles on a fixed interval and serves
// Prometheus metrics and health over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/horros/internal/runner"
	"github.com/yairfalse/horros/journal"
	"github.com/yairfalse/horros/telemetry"
)

// A daemon reporting this many consecutive failed cycles is degraded.
const unhealthyThreshold = 3

// Runner executes one discovery cycle.
type Runner interface {
	Run(ctx context.Context) (*runner.Result, error)
}

// Config holds daemon configuration
type Config struct {
	Provider      string
	Interval      time.Duration
	MetricsAddr   string
	JournalDir    string
	RetentionDays int
}

// Daemon manages continuous discovery
type Daemon struct {
	cfg      Config
	runner   Runner
	metrics  *telemetry.ScanMetrics
	logger   *telemetry.Logger
	listener net.Listener

	startTime  time.Time
	cycleCount atomic.Int64
	failStreak atomic.Int64
}

// NewDaemon creates a new daemon instance. The metrics listener binds
// immediately so bad addresses fail here, not mid-run.
func NewDaemon(cfg Config, r Runner) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("daemon requires a runner")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("daemon interval must be positive, got %s", cfg.Interval)
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":2113"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = journal.DefaultConfig().RetentionDays
	}

	ln, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics listener: %w", err)
	}

	return &Daemon{
		cfg:       cfg,
		runner:    r,
		logger:    telemetry.NewLogger("daemon"),
		listener:  ln,
		startTime: time.Now(),
	}, nil
}

// WithMetrics attaches run instruments for the failure-streak gauge.
func (d *Daemon) WithMetrics(m *telemetry.ScanMetrics) *Daemon {
	d.metrics = m
	return d
}

// MetricsAddr returns the bound metrics address.
func (d *Daemon) MetricsAddr() string {
	return d.listener.Addr().String()
}

// Close releases the metrics listener.
func (d *Daemon) Close() error {
	err := d.listener.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Run drives the daemon until a signal arrives or the context ends.
// Three actors run as a group: the cycle ticker, the metrics server,
// and the signal handler; any one stopping stops the rest.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	loopCtx, loopCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		loopCancel()
	})

	srv := &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Add(func() error {
		d.logger.Info().Str("addr", d.MetricsAddr()).Msg("metrics server listening")
		if err := srv.Serve(d.listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	err := g.Run()

	var sig run.SignalError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &sig):
		d.logger.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return err
	}
}

// loop runs the first cycle immediately, then one per interval.
func (d *Daemon) loop(ctx context.Context) error {
	d.logger.Info().
		Str("provider", d.cfg.Provider).
		Dur("interval", d.cfg.Interval).
		Msg("daemon started")

	d.runCycle(ctx)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("daemon stopping")
			return ctx.Err()
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	cycle := d.cycleCount.Add(1)
	log := d.logger.WithContext(ctx)
	log.Info().Int64("cycle", cycle).Msg("cycle started")

	result, err := d.runner.Run(ctx)
	if err != nil {
		streak := d.failStreak.Add(1)
		d.recordStreak(ctx, streak)
		log.Error().
			Err(err).
			Int64("cycle", cycle).
			Int64("consecutive_failures", streak).
			Msg("cycle failed")
		return
	}

	d.failStreak.Store(0)
	d.recordStreak(ctx, 0)

	log.Info().
		Int64("cycle", cycle).
		Int("records", len(result.Records)).
		Int("scopes_failed", result.RunStats.ScopesFailed).
		Str("csv", result.Files.CSV).
		Msg("cycle complete")

	d.cleanupJournal()
}

func (d *Daemon) recordStreak(ctx context.Context, streak int64) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordConsecutiveFailures(ctx, d.cfg.Provider, streak)
}

// cleanupJournal applies journal retention after each cycle.
func (d *Daemon) cleanupJournal() {
	if d.cfg.JournalDir == "" {
		return
	}

	stats, err := journal.Cleanup(d.cfg.JournalDir, d.cfg.RetentionDays)
	if err != nil {
		d.logger.Warn().Err(err).Msg("journal cleanup failed")
		return
	}
	if stats.FilesRemoved > 0 {
		d.logger.Debug().
			Int("files_removed", stats.FilesRemoved).
			Int64("bytes_freed", stats.BytesFreed).
			Msg("journal retention applied")
	}
}

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			telemetry.PrometheusRegistry,
			promhttp.HandlerOpts{},
		))
	}
	mux.HandleFunc("/healthz", d.handleHealth)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := d.Health()

	w.Header().Set("Content-Type", "application/json")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(health)
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	status := "healthy"
	if d.failStreak.Load() >= unhealthyThreshold {
		status = "degraded"
	}

	return HealthStatus{
		Status:              status,
		Uptime:              int64(time.Since(d.startTime).Seconds()),
		Cycles:              d.cycleCount.Load(),
		ConsecutiveFailures: d.failStreak.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status              string `json:"status"`
	Uptime              int64  `json:"uptime_seconds"`
	Cycles              int64  `json:"cycles"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

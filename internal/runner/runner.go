// Package runner coordinates one discovery run end to end: resolve the
// provider, enumerate scopes, fan out queries, apply policies and the
// age threshold, then write reports.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yairfalse/horros/aggregate"
	"github.com/yairfalse/horros/config"
	"github.com/yairfalse/horros/journal"
	"github.com/yairfalse/horros/policy"
	"github.com/yairfalse/horros/providers"
	"github.com/yairfalse/horros/report"
	"github.com/yairfalse/horros/scanner"
	"github.com/yairfalse/horros/stopcache"
	"github.com/yairfalse/horros/telemetry"
	"github.com/yairfalse/horros/types"
)

// Result carries everything one run produced.
type Result struct {
	Provider string
	Label    string
	Basis    types.AgeBasis
	Records  []types.InstanceRecord
	Excluded []policy.Exclusion
	Stats    aggregate.Stats
	RunStats types.RunStats
	Files    report.Files
}

// Runner executes discovery runs for one configuration.
type Runner struct {
	cfg        *config.Config
	engine     *policy.Engine
	cache      *stopcache.Cache
	metrics    *telemetry.ScanMetrics
	journalDir string
	logger     *telemetry.Logger
}

// New builds a runner: rego policies load when a policy dir is
// configured, and the stop-event cache opens unless disabled. A broken
// cache degrades to uncached lookups; broken policies are fatal.
func New(ctx context.Context, cfg *config.Config) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		logger: telemetry.NewLogger("runner"),
	}

	if cfg.Policies.Dir != "" {
		engine := policy.NewEngine()
		if err := engine.LoadDir(ctx, cfg.Policies.Dir); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		r.engine = engine
	}

	if !cfg.Cache.Disabled {
		cache, err := openCache(cfg)
		if err != nil {
			r.logger.Warn().Err(err).Msg("stop-event cache unavailable, continuing without it")
		} else {
			r.cache = cache
		}
	}

	return r, nil
}

// WithJournal directs run events into an append-only journal under dir.
func (r *Runner) WithJournal(dir string) *Runner {
	r.journalDir = dir
	return r
}

// WithMetrics attaches run instruments.
func (r *Runner) WithMetrics(m *telemetry.ScanMetrics) *Runner {
	r.metrics = m
	return r
}

// Close releases the stop-event cache.
func (r *Runner) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

// Run executes one discovery run and writes its reports. Scope-level
// failures degrade the result; everything else returned as an error is
// fatal for the run.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	stats := types.RunStats{
		Provider:  r.cfg.Provider,
		StartedAt: time.Now(),
	}

	ctx, span := telemetry.StartRun(ctx, telemetry.Tracer, r.cfg.Provider)
	defer func() { telemetry.EndRun(span, stats) }()

	jnl := r.openJournal()
	if jnl != nil {
		defer func() { _ = jnl.Close() }()
	}

	// 1. Resolve the provider and verify credentials
	source, err := providers.Get(ctx, r.cfg.Provider, r.providerOptions())
	if err != nil {
		return nil, err
	}
	if err := source.CheckAuth(ctx); err != nil {
		return nil, err
	}

	// 2. Enumerate scopes and apply allow/deny filters
	scopes, err := source.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	filter := scanner.ScopeFilter{Allow: r.cfg.Scopes.Allow, Deny: r.cfg.Scopes.Deny}
	planned := filter.Apply(scopes)
	if len(planned) == 0 {
		if !filter.Empty() && len(scopes) > 0 {
			return nil, fmt.Errorf("scope filters matched no scopes (allow=%v deny=%v)",
				r.cfg.Scopes.Allow, r.cfg.Scopes.Deny)
		}
		return nil, fmt.Errorf("provider %s returned no scopes to scan", r.cfg.Provider)
	}

	r.record(jnl, journal.EntryRunStarted, "", map[string]interface{}{
		"provider": r.cfg.Provider,
		"scopes":   len(planned),
	}, nil)

	// 3. Fan out across scopes
	fan := scanner.NewFanOut(r.cfg.Concurrency)
	records, outcomes := fan.Run(ctx, planned, source.ListStoppedInstances)
	scanner.FoldOutcomes(&stats, outcomes)
	for _, o := range outcomes {
		if o.Err != nil {
			r.record(jnl, journal.EntryScopeFailed, o.Scope.String(), map[string]interface{}{
				"elapsed_ms": o.Elapsed.Milliseconds(),
			}, o.Err)
			continue
		}
		r.record(jnl, journal.EntryScopeScanned, o.Scope.String(), map[string]interface{}{
			"found":      o.Found,
			"elapsed_ms": o.Elapsed.Milliseconds(),
		}, nil)
	}

	// 4. Policy exclusions
	var excluded []policy.Exclusion
	if r.engine != nil && r.engine.Len() > 0 {
		records, excluded = r.engine.Apply(ctx, records)
		stats.SkippedPolicy = len(excluded)
		for _, ex := range excluded {
			r.record(jnl, journal.EntryExcluded, ex.Record.Scope, map[string]interface{}{
				"instance_id": ex.Record.ID,
				"policy":      ex.Policy,
				"reason":      ex.Reason,
			}, nil)
		}
	}

	// 5. Age threshold and aggregation
	filtered, aggStats := aggregate.Aggregate(records, r.cfg.MinAgeDays, source.AgeBasis())
	stats.Filtered = len(filtered)

	// 6. Counters the source tracked during the run
	if counter, ok := source.(providers.APICallCounter); ok {
		stats.APICalls = counter.APICalls()
	}
	if skips, ok := source.(providers.SkipCounter); ok {
		stats.SkippedRecords = int(skips.SkippedRecords())
	}
	stats.FinishedAt = time.Now()

	// 7. Write reports
	writer := report.NewWriter(r.cfg.OutputDir)
	meta := report.Meta{
		Provider: source.Name(),
		Label:    runLabel(r.cfg),
		Basis:    source.AgeBasis(),
		Stats:    stats,
	}
	files, err := writer.WriteAll(ctx, filtered, aggStats, meta)
	if err != nil {
		return nil, fmt.Errorf("failed to write reports: %w", err)
	}
	if files.CSV != "" {
		r.record(jnl, journal.EntryReportWritten, "", map[string]interface{}{
			"csv":  files.CSV,
			"html": files.HTML,
		}, nil)
	}

	// 8. Finish: journal, cache upkeep, metrics, summary
	r.record(jnl, journal.EntryRunFinished, "", stats, nil)
	r.evictCache(ctx)
	if r.metrics != nil {
		r.metrics.RecordRun(ctx, stats, len(filtered), aggStats.TotalDiskGB)
	}
	r.logger.LogRunSummary(ctx, stats)

	return &Result{
		Provider: source.Name(),
		Label:    runLabel(r.cfg),
		Basis:    source.AgeBasis(),
		Records:  filtered,
		Excluded: excluded,
		Stats:    aggStats,
		RunStats: stats,
		Files:    files,
	}, nil
}

func (r *Runner) providerOptions() providers.Options {
	opts := providers.Options{
		Config:        r.cfg,
		FastMode:      r.cfg.FastMode,
		LookbackDays:  r.cfg.StopLookbackDays,
		EstimatedDays: r.cfg.EstimatedStoppedDays,
	}
	// Assign only a live cache; a typed nil would defeat the interface
	// nil checks downstream.
	if r.cache != nil {
		opts.Cache = r.cache
	}
	return opts
}

func (r *Runner) openJournal() *journal.Journal {
	if r.journalDir == "" {
		return nil
	}
	jnl, err := journal.Open(r.journalDir)
	if err != nil {
		r.logger.Warn().Err(err).Str("dir", r.journalDir).Msg("journal unavailable, continuing without it")
		return nil
	}
	return jnl
}

// record appends a journal entry, tolerating a nil journal.
func (r *Runner) record(jnl *journal.Journal, entryType journal.EntryType, scope string, data interface{}, cause error) {
	if jnl == nil {
		return
	}

	var err error
	if cause != nil {
		err = jnl.AppendError(entryType, scope, data, cause)
	} else {
		err = jnl.Append(entryType, scope, data)
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("entry", string(entryType)).Msg("journal append failed")
	}
}

func (r *Runner) evictCache(ctx context.Context) {
	if r.cache == nil {
		return
	}

	evicted, err := r.cache.Evict()
	if err != nil {
		r.logger.Warn().Err(err).Msg("stop-event cache eviction failed")
		return
	}
	if evicted > 0 {
		r.logger.WithContext(ctx).Debug().
			Int("evicted", evicted).
			Msg("expired stop events evicted")
	}
}

func openCache(cfg *config.Config) (*stopcache.Cache, error) {
	path := cfg.Cache.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home dir for cache: %w", err)
		}
		path = filepath.Join(home, ".horros", "stopcache.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return stopcache.Open(path, cfg.Cache.TTLDays)
}

// runLabel names the run's credential context for report headers.
func runLabel(cfg *config.Config) string {
	switch cfg.Provider {
	case "aws":
		return cfg.AWS.Region
	case "azure":
		if n := len(cfg.Azure.Subscriptions); n > 0 {
			return fmt.Sprintf("%d subscriptions", n)
		}
		return "all subscriptions"
	case "gcp":
		return cfg.GCP.Project
	case "oci":
		if cfg.OCI.TenancyID != "" {
			return cfg.OCI.TenancyID
		}
		return cfg.OCI.Profile
	}
	return ""
}

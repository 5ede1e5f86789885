package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/horros/config"
)

var (
	scanProvider          string
	scanMinAgeDays        int
	scanScopes            []string
	scanSkipScopes        []string
	scanConcurrency       int
	scanOutput            string
	scanFast              bool
	scanIncludeTerminated bool
	scanNoCache           bool
	scanPolicyDir         string
	scanTop               int
	scanFormat            string
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan one cloud for stopped instances",
	Long: `Scan a cloud provider for instances that are stopped or deallocated
but still holding disks.

Scopes (AWS regions, Azure subscriptions, GCP zones, OCI region and
compartment pairs) are discovered automatically and queried
concurrently. Findings older than the age threshold land in CSV and
HTML reports next to a console summary.`,
	Example: `  horros scan --provider aws                       # All enabled regions
  horros scan --provider azure --min-age-days 90   # Only 90+ day instances
  horros scan --provider oci --scopes "us-ashburn-1/*" --fast
  horros scan --provider gcp --format json > stopped.json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	addScanFlags(scanCmd)

	scanCmd.Flags().IntVar(&scanTop, "top", 20, "Rows in the oldest-instances table")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Stdout format: table, json, csv")
}

// addScanFlags registers the flags shared by scan and daemon.
func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scanProvider, "provider", "p", "", "Cloud provider: aws, azure, gcp, oci")
	cmd.Flags().IntVar(&scanMinAgeDays, "min-age-days", 0, "Only report instances at least this many days old")
	cmd.Flags().StringSliceVar(&scanScopes, "scopes", nil, "Only scan scopes matching these globs")
	cmd.Flags().StringSliceVar(&scanSkipScopes, "skip-scopes", nil, "Skip scopes matching these globs")
	cmd.Flags().IntVar(&scanConcurrency, "concurrency", 0, "Concurrent scope queries")
	cmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Directory for CSV and HTML reports")
	cmd.Flags().BoolVar(&scanFast, "fast", false, "Skip per-instance enrichment calls")
	cmd.Flags().BoolVar(&scanIncludeTerminated, "include-terminated", false, "Include terminated instances the provider still lists")
	cmd.Flags().BoolVar(&scanNoCache, "no-cache", false, "Disable the stop-event cache")
	cmd.Flags().StringVar(&scanPolicyDir, "policy-dir", "", "Directory of rego exclusion policies")
}

// applyScanFlags lays explicitly set flags over the loaded config.
func applyScanFlags(cfg *config.Config, cmd *cobra.Command) {
	flags := cmd.Flags()
	if scanProvider != "" {
		cfg.Provider = scanProvider
	}
	if flags.Changed("min-age-days") {
		cfg.MinAgeDays = scanMinAgeDays
	}
	if flags.Changed("scopes") {
		cfg.Scopes.Allow = scanScopes
	}
	if flags.Changed("skip-scopes") {
		cfg.Scopes.Deny = scanSkipScopes
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = scanConcurrency
	}
	if scanOutput != "" {
		cfg.OutputDir = scanOutput
	}
	if scanFast {
		cfg.FastMode = true
	}
	if scanIncludeTerminated {
		cfg.IncludeTerminated = true
	}
	if scanNoCache {
		cfg.Cache.Disabled = true
	}
	if scanPolicyDir != "" {
		cfg.Policies.Dir = scanPolicyDir
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	// Validate output format
	validFormats := []string{"table", "json", "csv"}
	if !contains(validFormats, scanFormat) {
		return fmt.Errorf("invalid format: %s (must be one of: %s)",
			scanFormat, strings.Join(validFormats, ", "))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyScanFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg, false)

	scanCommand := &ScanCommand{
		Config: cfg,
		Top:    scanTop,
		Format: scanFormat,
	}
	return scanCommand.Run(cmd.Context())
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

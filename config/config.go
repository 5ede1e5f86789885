package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/horros/normalize"
)

// Config represents the main configuration
type Config struct {
	Provider             string       `yaml:"provider"`
	MinAgeDays           int          `yaml:"min_age_days"`
	Concurrency          int          `yaml:"concurrency"`
	OutputDir            string       `yaml:"output_dir"`
	FastMode             bool         `yaml:"fast_mode"`
	IncludeTerminated    bool         `yaml:"include_terminated"`
	StopLookbackDays     int          `yaml:"stop_lookback_days"`
	EstimatedStoppedDays int          `yaml:"estimated_stopped_days"`
	Scopes               ScopeRules   `yaml:"scopes,omitempty"`
	Cache                CacheConfig  `yaml:"cache,omitempty"`
	Policies             PolicyConfig `yaml:"policies,omitempty"`
	Daemon               DaemonConfig `yaml:"daemon,omitempty"`
	Logging              LogConfig    `yaml:"logging,omitempty"`
	AWS                  AWSConfig    `yaml:"aws,omitempty"`
	Azure                AzureConfig  `yaml:"azure,omitempty"`
	GCP                  GCPConfig    `yaml:"gcp,omitempty"`
	OCI                  OCIConfig    `yaml:"oci,omitempty"`
	DiskDefaults         DiskDefaults `yaml:"disk_defaults,omitempty"`
}

// ScopeRules narrow which discovered scopes get scanned
type ScopeRules struct {
	Allow []string `yaml:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty"`
}

// CacheConfig controls the stop-event cache
type CacheConfig struct {
	Path     string `yaml:"path,omitempty"`
	TTLDays  int    `yaml:"ttl_days"`
	Disabled bool   `yaml:"disabled"`
}

// PolicyConfig points at optional rego exclusion policies
type PolicyConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// DaemonConfig controls periodic scanning
type DaemonConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// LogConfig controls log output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, json, console
}

// AWSConfig holds AWS-specific settings
type AWSConfig struct {
	Region  string `yaml:"region,omitempty"`
	Profile string `yaml:"profile,omitempty"`
}

// AzureConfig holds Azure-specific settings
type AzureConfig struct {
	Subscriptions []string `yaml:"subscriptions,omitempty"`
}

// GCPConfig holds GCP-specific settings
type GCPConfig struct {
	Project string   `yaml:"project,omitempty"`
	Zones   []string `yaml:"zones,omitempty"`
}

// OCIConfig holds OCI-specific settings
type OCIConfig struct {
	Profile      string   `yaml:"profile,omitempty"`
	TenancyID    string   `yaml:"tenancy_id,omitempty"`
	Regions      []string `yaml:"regions,omitempty"`
	Compartments []string `yaml:"compartments,omitempty"`
}

// SizeClassDefault maps a size-class pattern to a default disk size
type SizeClassDefault struct {
	Pattern string `yaml:"pattern"`
	GB      int    `yaml:"gb"`
}

// DiskDefaults estimate disk sizes when a provider omits them
type DiskDefaults struct {
	BootGB      int                `yaml:"boot_gb"`
	DataGB      int                `yaml:"data_gb"`
	BySizeClass []SizeClassDefault `yaml:"by_size_class,omitempty"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Provider:             "aws",
		MinAgeDays:           0,
		Concurrency:          10,
		OutputDir:            ".",
		StopLookbackDays:     90,
		EstimatedStoppedDays: normalize.DefaultEstimatedStoppedDays,
		Cache:                CacheConfig{TTLDays: 7},
		Daemon:               DaemonConfig{Interval: 6 * time.Hour, MetricsAddr: ":2113"},
		Logging:              LogConfig{Level: "info", Format: "auto"},
		OCI:                  OCIConfig{Profile: "DEFAULT"},
		DiskDefaults: DiskDefaults{
			BootGB: 50,
			DataGB: 100,
			BySizeClass: []SizeClassDefault{
				{Pattern: "*.nano", GB: 8},
				{Pattern: "*.micro", GB: 8},
				{Pattern: "*.small", GB: 30},
				{Pattern: "e2-*", GB: 64},
				{Pattern: "VM.Standard*", GB: 50},
				{Pattern: "*", GB: 64},
			},
		},
	}
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate ensures config has required fields
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.MinAgeDays < 0 {
		return fmt.Errorf("min_age_days cannot be negative, got %d", c.MinAgeDays)
	}
	if c.StopLookbackDays < 0 {
		return fmt.Errorf("stop_lookback_days cannot be negative, got %d", c.StopLookbackDays)
	}
	if c.EstimatedStoppedDays < 1 {
		return fmt.Errorf("estimated_stopped_days must be positive, got %d", c.EstimatedStoppedDays)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Daemon.Interval < time.Minute {
		return fmt.Errorf("daemon interval must be at least 1m, got %s", c.Daemon.Interval)
	}
	return nil
}

// NormalizeDiskDefaults converts the YAML table into the form the
// normalizer helpers consume.
func (c *Config) NormalizeDiskDefaults() normalize.DiskDefaults {
	out := normalize.DiskDefaults{
		BootGB: c.DiskDefaults.BootGB,
		DataGB: c.DiskDefaults.DataGB,
	}
	for _, def := range c.DiskDefaults.BySizeClass {
		out.BySizeClass = append(out.BySizeClass, normalize.SizeClassDefault{
			Pattern: def.Pattern,
			GB:      def.GB,
		})
	}
	return out
}

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/horros/config"
	"github.com/yairfalse/horros/telemetry"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "horros",
		Short: "Stopped Instance Inventory",
		Long: `Horros - Stopped Instance Inventory

Horros finds compute instances that were stopped or deallocated and
then forgotten, across AWS, Azure, GCP, and OCI. Stopped instances
keep their disks, and the disks keep billing.

Scan a provider, age the findings against a threshold, and get CSV
and HTML reports of what is still sitting around.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.SetVersionTemplate(`Horros {{.Version}} - Stopped Instance Inventory
`)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the horros version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Horros %s\n", version)
		},
	})
}

// loadConfig reads the configured file, or falls back to defaults.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadConfig(cfgFile)
	}
	return config.Default(), nil
}

// setupLogging applies the configured level and output format. Format
// "auto" resolves to console for interactive commands and JSON for the
// daemon.
func setupLogging(cfg *config.Config, daemonMode bool) {
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch cfg.Logging.Format {
	case "json":
		telemetry.UseConsoleWriter(false)
	case "console":
		telemetry.UseConsoleWriter(true)
	default:
		telemetry.UseConsoleWriter(!daemonMode)
	}
}

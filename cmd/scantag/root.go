package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/scantag/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	logFormat  string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "scantag",
		Short: "Scan verdict tagging and quarantine engine",
		Long: `scantag - Scan Verdict Tagging & Quarantine

scantag consumes malware scan results and applies them to the scanned
objects: every object gets a consistent set of scan tags, and malicious
objects can be copied into a quarantine bucket and optionally removed
from their original location.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`scantag {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format override (console, json)")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	var err error
	if configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return err
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return setupLogging(cfg.Log, os.Stderr)
}

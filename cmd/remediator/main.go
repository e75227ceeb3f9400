// Package main implements the remediator CLI.
//
// remediator runs remediation phases over a detector feed, keeps run state
// between invocations, and can serve the same operations over HTTP or as a
// Temporal worker.
//
// Usage:
//
//	# Run the first phase of a new run
//	remediator run --feed problems.json
//
//	# Serve the HTTP API
//	remediator serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remediator/internal/config"
	"github.com/fyrsmithlabs/remediator/internal/services"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is an optional YAML config file
	configPath string
	// logLevel overrides logging.level when set
	logLevel string
)

// errPhaseFatal makes the process exit non-zero after the report is printed.
var errPhaseFatal = errors.New("phase made no validated progress")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errPhaseFatal) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "remediator",
	Short: "Phased, risk-bounded remediation of detected problems",
	Long: `remediator classifies detected problems, fixes them in small validated
batches, and tracks compliance and objectives across the phases of a run.

Configuration is read from ~/.config/remediator/config.yaml (or --config)
and REMEDIATOR_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/remediator/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "remediator by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// openServices loads configuration and builds the service graph. The
// returned func closes it.
func openServices(ctx context.Context) (*services.Services, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := services.Build(ctx, cfg, services.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing services: %w", err)
	}
	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(shutdownCtx)
	}
	return svc, closeFn, nil
}

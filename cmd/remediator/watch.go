package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/feed"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/report"
)

var (
	watchDir   string
	watchPhase string
)

// watchCmd runs a phase whenever a detector writes a feed
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a phase each time a detector writes a feed file",
	Long: `Watch a directory and run a phase for every feed file written to it.

A file named after a default phase (stabilize.json, raise_compliance.json,
finalize_readiness.json) runs that phase; any other file runs --phase.
All phases belong to the same run.

Examples:
  # Watch ./feeds for a new run
  remediator watch --dir ./feeds

  # Keep feeding run 42
  remediator watch --dir ./feeds --run-id 42 --format markdown`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "feed directory (default: watch.dir from config)")
	watchCmd.Flags().StringVar(&runID, "run-id", "", "run to continue (default: a new run)")
	watchCmd.Flags().StringVar(&watchPhase, "phase", "stabilize", "phase for files not named after a default phase")
	watchCmd.Flags().StringVar(&outputFormat, "format", "console", "report format: console, markdown or json")
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeFn, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := svc.Config()
	dir := watchDir
	if dir == "" {
		dir = cfg.Watch.Dir
	}
	if dir == "" {
		return fmt.Errorf("--dir is required when watch.dir is not configured")
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	logger := svc.Logger()
	out := cmd.OutOrStdout()
	handler := func(ctx context.Context, path string, raw []problem.RawProblem) error {
		spec := phaseForFile(path, watchPhase, svc.RiskCeiling())
		r, err := svc.Runner().RunPhase(ctx, runID, spec, raw)
		if err != nil {
			return err
		}
		return report.WritePhase(out, format, r)
	}

	w, err := feed.NewWatcher(feed.WatcherOptions{
		Dir:      dir,
		Pattern:  cfg.Watch.Pattern,
		Debounce: time.Duration(cfg.Watch.Debounce),
		Logger:   logger,
	}, handler)
	if err != nil {
		return err
	}

	logger.Info(ctx, "watching for feeds", zap.String("dir", dir), zap.String("run_id", runID))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// phaseForFile maps stabilize.json to the stabilize phase and anything else
// to fallback.
func phaseForFile(path, fallback string, ceiling problem.RiskLevel) orchestrator.PhaseSpec {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for _, p := range orchestrator.DefaultPhases() {
		if p.Name == stem {
			return p
		}
	}
	return orchestrator.PhaseByName(fallback, ceiling)
}

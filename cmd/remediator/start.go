package main

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/report"
	"github.com/fyrsmithlabs/remediator/internal/workflows"
)

var (
	startWait  bool
	startPhase []string
)

// startCmd starts the durable remediation workflow on Temporal
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a durable multi-phase run on Temporal",
	Long: `Start the remediation workflow for a run. Each phase runs as one activity
on a "remediator serve" worker, so a worker restart resumes at the next phase.

Feed paths are read by the worker and must be visible to it.

Examples:
  # Start the default plan and return immediately
  remediator start --feed /shared/problems.json

  # Use per-phase feeds and wait for the result
  remediator start --feed-dir /shared/feeds --run-id 42 --wait

  # Run only two phases
  remediator start --feed /shared/problems.json --phase stabilize --phase raise_compliance`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&runFeedPath, "feed", "", "detector feed file, re-read for every phase")
	startCmd.Flags().StringVar(&runFeedDir, "feed-dir", "", "directory of per-phase feeds ({phase}.json)")
	startCmd.Flags().StringVar(&runID, "run-id", "", "run id (default: a new run)")
	startCmd.Flags().StringSliceVar(&startPhase, "phase", nil, "phases to run (default: every default phase)")
	startCmd.Flags().BoolVar(&startWait, "wait", false, "wait for the workflow and print its reports")
	startCmd.Flags().StringVar(&outputFormat, "format", "console", "report format with --wait: console, markdown or json")
}

func runStart(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if runFeedPath == "" && runFeedDir == "" {
		return fmt.Errorf("--feed or --feed-dir is required")
	}
	if runFeedPath == "-" {
		return fmt.Errorf("the worker cannot read stdin; pass a feed file")
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	input := workflows.RunInput{RunID: runID, FeedPath: absOrEmpty(runFeedPath), FeedDir: absOrEmpty(runFeedDir)}
	if len(startPhase) > 0 {
		ceiling, err := riskCeiling(cfg.Remediation.RiskCeiling)
		if err != nil {
			return err
		}
		for _, name := range startPhase {
			input.Phases = append(input.Phases, orchestrator.PhaseByName(name, ceiling))
		}
	}

	c, err := dialTemporal(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := workflows.StartRun(ctx, c, cfg.Temporal.TaskQueue, input)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "started workflow %s (run %s, execution %s)\n", run.GetID(), runID, run.GetRunID())
	if !startWait {
		return nil
	}
	return waitForRun(cmd, run, format)
}

func waitForRun(cmd *cobra.Command, run client.WorkflowRun, format report.Format) error {
	var result workflows.RunResult
	if err := run.Get(commandContext(cmd), &result); err != nil {
		return fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	for _, r := range result.Reports {
		if err := report.WritePhase(cmd.OutOrStdout(), format, r); err != nil {
			return err
		}
	}
	if result.Stopped {
		fmt.Fprintln(cmd.OutOrStdout(), "stopped before completing every phase")
	}
	return fatalErr(result.Reports...)
}

func absOrEmpty(path string) string {
	if path == "" {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remediator/internal/feed"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/report"
)

var (
	runFeedPath  string
	runFeedDir   string
	runID        string
	runPhase     string
	runCeiling   string
	runAllPhases bool
	outputFormat string
)

// runCmd runs one phase, or the whole default plan, against a feed
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a remediation phase over a detector feed",
	Long: `Run one remediation phase over a detector feed and print its report.

Run state (compliance score, objectives, phase history) is persisted under the
run id, so later phases of the same run continue where this one stopped.

Examples:
  # Start a new run with the stabilize phase
  remediator run --feed problems.json

  # Continue run 42 with the next phase
  remediator run --feed problems.json --run-id 42 --phase raise_compliance

  # Run every default phase, re-reading the feed before each one
  remediator run --feed problems.json --all-phases --format markdown

  # Read the feed from stdin
  lint-detector | remediator run --feed -`,
	RunE: runRun,
}

// statusCmd prints a run's state and history
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state and phase history of a run",
	Long: `Show the persisted compliance score, objectives and phase history of a run.

Examples:
  remediator status --run-id 42
  remediator status --run-id 42 --format json`,
	RunE: runStatus,
}

func init() {
	runCmd.Flags().StringVar(&runFeedPath, "feed", "", "detector feed file (json or yaml, - for stdin)")
	runCmd.Flags().StringVar(&runFeedDir, "feed-dir", "", "directory of per-phase feeds ({phase}.json), used with --all-phases")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run to continue (default: a new run)")
	runCmd.Flags().StringVar(&runPhase, "phase", "stabilize", "phase to run")
	runCmd.Flags().StringVar(&runCeiling, "risk-ceiling", "", "risk ceiling for a phase that is not a default phase")
	runCmd.Flags().BoolVar(&runAllPhases, "all-phases", false, "run every default phase in order")
	runCmd.Flags().StringVar(&outputFormat, "format", "console", "report format: console, markdown or json")

	statusCmd.Flags().StringVar(&runID, "run-id", "", "run to show")
	statusCmd.Flags().StringVar(&outputFormat, "format", "console", "report format: console, markdown or json")
	_ = statusCmd.MarkFlagRequired("run-id")
}

func runRun(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if runFeedPath == "" && runFeedDir == "" {
		return fmt.Errorf("--feed or --feed-dir is required")
	}
	if runFeedDir != "" && !runAllPhases {
		return fmt.Errorf("--feed-dir requires --all-phases")
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeFn, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if runAllPhases {
		source := feed.FileSource(runFeedPath)
		if runFeedDir != "" {
			source = feed.DirSource(runFeedDir, runFeedPath)
		}
		reports, err := svc.Runner().RunPlan(ctx, runID, orchestrator.DefaultPhases(), source)
		for _, r := range reports {
			if werr := report.WritePhase(out, format, r); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		return fatalErr(reports...)
	}

	ceiling := svc.RiskCeiling()
	if runCeiling != "" {
		if ceiling, err = problem.ParseRiskLevel(runCeiling); err != nil {
			return err
		}
	}
	raw, err := feed.Load(runFeedPath)
	if err != nil {
		return err
	}
	r, err := svc.Runner().RunPhase(ctx, runID, orchestrator.PhaseByName(runPhase, ceiling), raw)
	if err != nil {
		return err
	}
	if err := report.WritePhase(out, format, r); err != nil {
		return err
	}
	return fatalErr(r)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	svc, closeFn, err := openServices(commandContext(cmd))
	if err != nil {
		return err
	}
	defer closeFn()

	state, history, err := svc.Runner().Status(commandContext(cmd), runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return report.WriteStatus(cmd.OutOrStdout(), format, report.Status{Run: state, History: history})
}

func fatalErr(reports ...*orchestrator.PhaseReport) error {
	for _, r := range reports {
		if r.Fatal {
			return fmt.Errorf("%w: %s", errPhaseFatal, r.PhaseName)
		}
	}
	return nil
}

// commandContext returns cmd's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func riskCeiling(s string) (problem.RiskLevel, error) {
	if s == "" {
		return problem.RiskMedium, nil
	}
	return problem.ParseRiskLevel(s)
}

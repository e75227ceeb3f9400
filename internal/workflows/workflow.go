package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

// RemediationWorkflow runs the phases of a run in order, one activity per
// phase. It stops early when a phase aborts, when a phase fails, or when
// SignalStop arrives; fatal phases do not stop the plan.
func RemediationWorkflow(ctx workflow.Context, input RunInput) (*RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting remediation workflow", "run_id", input.RunID)

	result := &RunResult{
		RunID:     input.RunID,
		StartTime: workflow.Now(ctx),
	}
	if input.RunID == "" {
		return result, temporal.NewNonRetryableApplicationError("run_id is required", ErrTypeInvalidInput, nil)
	}

	phases := input.Phases
	if len(phases) == 0 {
		phases = orchestrator.DefaultPhases()
	}
	timeout := input.PhaseTimeout
	if timeout <= 0 {
		timeout = DefaultPhaseTimeout
	}

	// Phases mutate the workspace and the persisted run; retrying a phase
	// that failed halfway is safe because problems are re-derived from the
	// feed every time.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})

	progress := Progress{Completed: []string{}}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (Progress, error) {
		return progress, nil
	}); err != nil {
		return result, err
	}

	stop := workflow.GetSignalChannel(ctx, SignalStop)
	workflow.Go(ctx, func(ctx workflow.Context) {
		stop.Receive(ctx, nil)
		progress.Stopping = true
	})

	var a *Activities
	for _, phase := range phases {
		if progress.Stopping {
			logger.Info("Stop requested, skipping remaining phases", "next", phase.Name)
			result.Stopped = true
			break
		}
		progress.Current = phase.Name

		var report orchestrator.PhaseReport
		err := workflow.ExecuteActivity(ctx, a.RunPhase, PhaseInput{
			RunID:    input.RunID,
			Phase:    phase,
			FeedPath: input.FeedPath,
			FeedDir:  input.FeedDir,
		}).Get(ctx, &report)
		if err != nil {
			result.Errors = append(result.Errors, formatErrorForResult("phase "+phase.Name, err))
			result.EndTime = workflow.Now(ctx)
			var canceled *temporal.CanceledError
			if errors.As(err, &canceled) {
				result.Stopped = true
			}
			return result, err
		}

		result.Reports = append(result.Reports, &report)
		progress.Completed = append(progress.Completed, phase.Name)
		progress.Current = ""
		logger.Info("Phase completed",
			"phase", phase.Name,
			"fixed", report.ErrorsFixed,
			"compliance", report.ComplianceAfter,
			"fatal", report.Fatal)

		if report.Aborted {
			result.Stopped = true
			break
		}
	}

	result.EndTime = workflow.Now(ctx)
	return result, nil
}

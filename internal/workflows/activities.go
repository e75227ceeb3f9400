package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/feed"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// PhaseRunner runs one phase of a persisted run.
type PhaseRunner interface {
	RunPhase(ctx context.Context, runID string, spec orchestrator.PhaseSpec, feed []problem.RawProblem) (*orchestrator.PhaseReport, error)
}

// Activities are registered with a worker as a struct so they share the
// runner. Workflows reference them through a nil *Activities.
type Activities struct {
	Runner PhaseRunner
	Logger *logging.Logger
}

// RunPhase loads the phase's feed and runs the phase.
func (a *Activities) RunPhase(ctx context.Context, in PhaseInput) (*orchestrator.PhaseReport, error) {
	logger := a.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ctx = logging.WithPhase(logging.WithRunID(ctx, in.RunID), in.Phase.Name)

	if in.FeedPath == "" && in.FeedDir == "" {
		return nil, temporal.NewNonRetryableApplicationError("feed_path or feed_dir is required", ErrTypeInvalidInput, nil)
	}
	source := feed.FileSource(in.FeedPath)
	if in.FeedDir != "" {
		source = feed.DirSource(in.FeedDir, in.FeedPath)
	}

	start := time.Now()
	activity.RecordHeartbeat(ctx, in.Phase.Name)

	problems, err := source(ctx, in.Phase)
	if err != nil {
		recordPhaseActivity(ctx, in.Phase.Name, time.Since(start).Seconds(), err)
		if errors.Is(err, feed.ErrMalformedFeed) || errors.Is(err, feed.ErrFeedTooLarge) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
		}
		return nil, err
	}

	report, err := a.Runner.RunPhase(ctx, in.RunID, in.Phase, problems)
	recordPhaseActivity(ctx, in.Phase.Name, time.Since(start).Seconds(), err)
	if err != nil {
		logger.Warn(ctx, "phase activity failed", zap.Error(err))
		return nil, classifyPhaseError(in.Phase.Name, err)
	}

	logger.Info(ctx, "phase activity completed",
		zap.Int("errors_fixed", report.ErrorsFixed),
		zap.Float64("compliance_after", report.ComplianceAfter),
		zap.Bool("fatal", report.Fatal),
	)
	return report, nil
}

// Package workflows runs multi-phase remediation as a durable Temporal
// workflow. Each phase is one activity, so a worker crash resumes the plan
// at the next phase instead of repeating applied fixes.
package workflows

import (
	"time"

	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

const (
	// QueryProgress returns the workflow's Progress.
	QueryProgress = "progress"

	// SignalStop asks the workflow to stop before its next phase.
	SignalStop = "stop"

	// DefaultPhaseTimeout bounds one phase activity.
	DefaultPhaseTimeout = 30 * time.Minute
)

// RunInput starts a remediation workflow.
type RunInput struct {
	RunID  string                   `json:"run_id"`
	Phases []orchestrator.PhaseSpec `json:"phases"` // empty uses orchestrator.DefaultPhases

	// FeedPath is re-read for every phase. With FeedDir set, {FeedDir}/{phase}.json
	// (or .yaml) takes precedence and FeedPath is the fallback.
	FeedPath string `json:"feed_path,omitempty"`
	FeedDir  string `json:"feed_dir,omitempty"`

	PhaseTimeout time.Duration `json:"phase_timeout,omitempty"`
}

// PhaseInput is the input of the RunPhase activity.
type PhaseInput struct {
	RunID    string                 `json:"run_id"`
	Phase    orchestrator.PhaseSpec `json:"phase"`
	FeedPath string                 `json:"feed_path,omitempty"`
	FeedDir  string                 `json:"feed_dir,omitempty"`
}

// RunResult is the workflow result.
type RunResult struct {
	RunID     string                      `json:"run_id"`
	Reports   []*orchestrator.PhaseReport `json:"reports"`
	Stopped   bool                        `json:"stopped"`
	StartTime time.Time                   `json:"start_time"`
	EndTime   time.Time                   `json:"end_time"`
	Errors    []string                    `json:"errors,omitempty"`
}

// Progress is returned by QueryProgress.
type Progress struct {
	Completed []string `json:"completed"`
	Current   string   `json:"current,omitempty"`
	Stopping  bool     `json:"stopping"`
}

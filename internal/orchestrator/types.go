package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/validate"
)

// Stage is one step of a phase
type Stage string

const (
	// StageClassify turns raw detector records into problems
	StageClassify Stage = "classify"

	// StagePrioritize builds batches, waves and the deferred set
	StagePrioritize Stage = "prioritize"

	// StageExecuteBatches applies fixes wave by wave
	StageExecuteBatches Stage = "execute_batches"

	// StageValidate scores each category's fixes
	StageValidate Stage = "validate"

	// StageUpdateCompliance folds validated fixes into the compliance score
	StageUpdateCompliance Stage = "update_compliance"

	// StageAdvanceObjectives converts fix volume into objective progress
	StageAdvanceObjectives Stage = "advance_objectives"

	// StageReport assembles the phase report
	StageReport Stage = "report"
)

// AllStages returns all stages in execution order
func AllStages() []Stage {
	return []Stage{
		StageClassify, StagePrioritize, StageExecuteBatches, StageValidate,
		StageUpdateCompliance, StageAdvanceObjectives, StageReport,
	}
}

// StageStatus represents the completion status of a stage
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
	StatusSkipped    StageStatus = "skipped"
)

// StageResult records one stage of a phase
type StageResult struct {
	Stage       Stage       `json:"stage"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Output      string      `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// PhaseSpec names a phase and its admission rules
type PhaseSpec struct {
	Name        string            `json:"name"`
	RiskCeiling problem.RiskLevel `json:"risk_ceiling"`

	// MaxBatchSize overrides the coordinator default when positive.
	MaxBatchSize int `json:"max_batch_size,omitempty"`
}

// DefaultPhases returns the built-in phase plan
func DefaultPhases() []PhaseSpec {
	return []PhaseSpec{
		{Name: "stabilize", RiskCeiling: problem.RiskLow},
		{Name: "raise_compliance", RiskCeiling: problem.RiskMedium},
		{Name: "finalize_readiness", RiskCeiling: problem.RiskMedium},
	}
}

// PhaseByName looks up a phase in the default plan. Unknown names get a
// phase with the given fallback ceiling.
func PhaseByName(name string, fallback problem.RiskLevel) PhaseSpec {
	for _, p := range DefaultPhases() {
		if p.Name == name {
			return p
		}
	}
	return PhaseSpec{Name: name, RiskCeiling: fallback}
}

// PhaseReport is the write-once summary of one phase
type PhaseReport struct {
	RunID                string  `json:"run_id"`
	PhaseName            string  `json:"phase_name"`
	ErrorsProcessed      int     `json:"errors_processed"`
	ErrorsFixed          int     `json:"errors_fixed"`
	ErrorsFailed         int     `json:"errors_failed"`
	ErrorsDeferred       int     `json:"errors_deferred"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
	ValidationScore      float64 `json:"validation_score"`

	NextActions []string `json:"next_actions"`

	// Fatal marks a phase where batches were planned but none could be validated.
	Fatal bool `json:"fatal"`

	// Aborted marks a phase stopped between batches.
	Aborted bool `json:"aborted"`

	Provisional        []problem.Category       `json:"provisional,omitempty"`
	DeferredByCategory map[problem.Category]int `json:"deferred_by_category"`
	CategoryScores     []validate.Score         `json:"category_scores,omitempty"`
	BatchesPlanned     int                      `json:"batches_planned"`
	BatchesFailed      int                      `json:"batches_failed"`
	Waves              int                      `json:"waves"`

	ComplianceBefore  float64            `json:"compliance_before"`
	ComplianceAfter   float64            `json:"compliance_after"`
	ComplianceDelta   float64            `json:"compliance_delta"`
	ObjectiveAdvances map[string]float64 `json:"objective_advances,omitempty"`

	Stages      []StageResult `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Succeeded reports whether the phase produced a usable result
func (r *PhaseReport) Succeeded() bool {
	return !r.Fatal && !r.Aborted
}

// RunContext carries per-run state from one phase to the next. Problems are
// never carried; only compliance, objectives and the report history.
type RunContext struct {
	RunID      string
	Compliance compliance.State
	Objectives *objective.Set
	Logger     *logging.Logger
	History    []*PhaseReport

	// Abort is consulted between batches. Nil never aborts.
	Abort func(ctx context.Context) bool
}

// NewRunContext creates a run context. A nil logger discards output.
func NewRunContext(runID string, state compliance.State, objectives *objective.Set, logger *logging.Logger) (*RunContext, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if objectives == nil {
		set, err := objective.NewSet(objective.Defaults())
		if err != nil {
			return nil, err
		}
		objectives = set
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RunContext{
		RunID:      runID,
		Compliance: state.Clone(),
		Objectives: objectives,
		Logger:     logger,
	}, nil
}

// Violation is a structural defect detected by a gate
type Violation struct {
	Type        ViolationType `json:"type"`
	Gate        string        `json:"gate"`
	BatchID     string        `json:"batch_id,omitempty"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// ViolationType categorizes structural violations
type ViolationType string

const (
	ViolationMixedCategory      ViolationType = "mixed_category"
	ViolationHighRiskBatched    ViolationType = "high_risk_batched"
	ViolationBatchTooLarge      ViolationType = "batch_too_large"
	ViolationDependencyConflict ViolationType = "dependency_conflict"
	ViolationProblemUnaccounted ViolationType = "problem_unaccounted"
	ViolationProblemDuplicated  ViolationType = "problem_duplicated"
)

// Severity indicates how serious a violation is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ViolationError is returned when a gate blocks a phase.
type ViolationError struct {
	Phase      string
	Violations []Violation
}

func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("[%s/%s] %s", v.Gate, v.Type, v.Description))
	}
	return fmt.Sprintf("structural violation in phase %s: %s", e.Phase, strings.Join(parts, "; "))
}

// Unwrap maps violations onto the scheduler's sentinel errors so callers can
// use errors.Is with prioritize.ErrMixedCategoryBatch and friends.
func (e *ViolationError) Unwrap() []error {
	var errs []error
	for _, v := range e.Violations {
		if err := sentinelFor(v.Type); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

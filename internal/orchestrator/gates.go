package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

var (
	ErrProblemUnaccounted = errors.New("problem neither batched nor deferred")
	ErrRiskAboveCeiling   = errors.New("problem admitted above the phase risk ceiling")
)

const (
	ViolationRiskAboveCeiling ViolationType = "risk_above_ceiling"
	ViolationEmptyBatch       ViolationType = "empty_batch"
)

// GateInput is what a gate inspects after prioritization
type GateInput struct {
	Phase        PhaseSpec
	Problems     []problem.Problem
	Plan         prioritize.Plan
	MaxBatchSize int
}

// PlanGate validates a plan before any fix is applied
type PlanGate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns every violation found; an error means the gate itself failed
	Check(ctx context.Context, in GateInput) ([]Violation, error)
}

// DefaultGates returns the structural gates every phase runs
func DefaultGates() []PlanGate {
	return []PlanGate{NewBatchShapeGate(), NewWaveGate(), NewAccountingGate()}
}

// BatchShapeGate enforces single-category, bounded, non-HIGH batches
type BatchShapeGate struct {
	now func() time.Time
}

// NewBatchShapeGate creates a batch shape gate
func NewBatchShapeGate() *BatchShapeGate {
	return &BatchShapeGate{now: time.Now}
}

// Name returns the gate identifier
func (g *BatchShapeGate) Name() string {
	return "batch-shape"
}

// Check validates every batch in the plan
func (g *BatchShapeGate) Check(_ context.Context, in GateInput) ([]Violation, error) {
	var violations []Violation
	add := func(t ViolationType, batchID string, sev Severity, format string, args ...any) {
		violations = append(violations, Violation{
			Type:        t,
			Gate:        g.Name(),
			BatchID:     batchID,
			Description: fmt.Sprintf(format, args...),
			Severity:    sev,
			DetectedAt:  g.now(),
		})
	}

	for _, b := range in.Plan.Batches {
		if len(b.Problems) == 0 {
			add(ViolationEmptyBatch, b.ID, SeverityWarning, "batch %s has no problems", b.ID)
			continue
		}
		if in.MaxBatchSize > 0 && len(b.Problems) > in.MaxBatchSize {
			add(ViolationBatchTooLarge, b.ID, SeverityCritical,
				"batch %s has %d problems, max %d", b.ID, len(b.Problems), in.MaxBatchSize)
		}
		for _, p := range b.Problems {
			if p.Category != b.Category {
				add(ViolationMixedCategory, b.ID, SeverityCritical,
					"batch %s is %s but contains %s (%s)", b.ID, b.Category, p.ID, p.Category)
			}
			switch {
			case p.RiskLevel >= problem.RiskHigh:
				add(ViolationHighRiskBatched, b.ID, SeverityCritical,
					"batch %s contains HIGH risk problem %s", b.ID, p.ID)
			case in.Phase.RiskCeiling > 0 && p.RiskLevel > in.Phase.RiskCeiling:
				add(ViolationRiskAboveCeiling, b.ID, SeverityError,
					"batch %s contains %s risk problem %s above ceiling %s", b.ID, p.RiskLevel, p.ID, in.Phase.RiskCeiling)
			}
		}
	}
	return violations, nil
}

// WaveGate ensures no two batches in the same wave share a dependency
type WaveGate struct {
	now func() time.Time
}

// NewWaveGate creates a wave gate
func NewWaveGate() *WaveGate {
	return &WaveGate{now: time.Now}
}

// Name returns the gate identifier
func (g *WaveGate) Name() string {
	return "wave-dependencies"
}

// Check validates the wave assignment
func (g *WaveGate) Check(_ context.Context, in GateInput) ([]Violation, error) {
	var violations []Violation
	for _, wave := range in.Plan.Waves() {
		for i := range wave {
			for j := i + 1; j < len(wave); j++ {
				if !wave[i].SharesDependency(wave[j]) {
					continue
				}
				violations = append(violations, Violation{
					Type:        ViolationDependencyConflict,
					Gate:        g.Name(),
					BatchID:     wave[i].ID,
					Description: fmt.Sprintf("batches %s and %s share a dependency in wave %d", wave[i].ID, wave[j].ID, wave[i].Wave),
					Severity:    SeverityCritical,
					DetectedAt:  g.now(),
				})
			}
		}
	}
	return violations, nil
}

// AccountingGate ensures every classified problem lands in exactly one of
// the batches or the deferred set
type AccountingGate struct {
	now func() time.Time
}

// NewAccountingGate creates an accounting gate
func NewAccountingGate() *AccountingGate {
	return &AccountingGate{now: time.Now}
}

// Name returns the gate identifier
func (g *AccountingGate) Name() string {
	return "problem-accounting"
}

// Check validates the batched/deferred partition
func (g *AccountingGate) Check(_ context.Context, in GateInput) ([]Violation, error) {
	seen := make(map[string]int, len(in.Problems))
	for _, b := range in.Plan.Batches {
		for _, p := range b.Problems {
			seen[p.ID]++
		}
	}
	for _, d := range in.Plan.Deferred {
		seen[d.Problem.ID]++
	}

	var violations []Violation
	for _, p := range in.Problems {
		switch n := seen[p.ID]; {
		case n == 0:
			violations = append(violations, Violation{
				Type:        ViolationProblemUnaccounted,
				Gate:        g.Name(),
				Description: fmt.Sprintf("problem %s at %s was dropped by the scheduler", p.ID, p.Location),
				Severity:    SeverityCritical,
				DetectedAt:  g.now(),
			})
		case n > 1:
			violations = append(violations, Violation{
				Type:        ViolationProblemDuplicated,
				Gate:        g.Name(),
				Description: fmt.Sprintf("problem %s scheduled %d times", p.ID, n),
				Severity:    SeverityCritical,
				DetectedAt:  g.now(),
			})
		}
	}
	return violations, nil
}

func sentinelFor(t ViolationType) error {
	switch t {
	case ViolationMixedCategory:
		return prioritize.ErrMixedCategoryBatch
	case ViolationHighRiskBatched:
		return prioritize.ErrHighRiskBatched
	case ViolationBatchTooLarge:
		return prioritize.ErrBatchTooLarge
	case ViolationDependencyConflict:
		return prioritize.ErrDependencyConflict
	case ViolationProblemDuplicated:
		return prioritize.ErrDuplicateProblem
	case ViolationProblemUnaccounted:
		return ErrProblemUnaccounted
	case ViolationRiskAboveCeiling:
		return ErrRiskAboveCeiling
	case ViolationEmptyBatch:
		return prioritize.ErrEmptyBatch
	default:
		return nil
	}
}

// hasBlockingViolation checks if any violation should stop the phase
func hasBlockingViolation(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func blocking(violations []Violation) []Violation {
	var out []Violation
	for _, v := range violations {
		if v.Severity != SeverityWarning {
			out = append(out, v)
		}
	}
	return out
}

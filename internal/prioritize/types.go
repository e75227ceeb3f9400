// Package prioritize orders classified problems into bounded, single-category
// fix batches and a deferred set, and schedules dependency-conflicting
// batches into sequential waves.
package prioritize

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// Structural violations. These indicate a scheduling defect, never an
// external failure.
var (
	ErrMixedCategoryBatch = errors.New("batch mixes categories")
	ErrHighRiskBatched    = errors.New("high-risk problem admitted into batch")
	ErrBatchTooLarge      = errors.New("batch exceeds maximum size")
	ErrEmptyBatch         = errors.New("batch has no problems")
	ErrDependencyConflict = errors.New("batches in the same wave share a dependency")
	ErrDuplicateProblem   = errors.New("problem scheduled more than once")
	ErrInvalidBatchSize   = errors.New("max batch size must be positive")
)

// DeferralReason explains why a problem was not batched
type DeferralReason string

const (
	ReasonNotAutoFixable   DeferralReason = "not_auto_fixable"
	ReasonHighRisk         DeferralReason = "high_risk"
	ReasonRiskAboveCeiling DeferralReason = "risk_above_ceiling"
	ReasonBatchFailed      DeferralReason = "batch_failed"
	ReasonAborted          DeferralReason = "aborted"
)

// Deferral is a problem left for a later phase or for manual handling
type Deferral struct {
	Problem problem.Problem `json:"problem"`
	Reason  DeferralReason  `json:"reason"`
}

// Batch is an ordered group of problems from one category
type Batch struct {
	ID       string            `json:"id"`
	Category problem.Category  `json:"category"`
	Problems []problem.Problem `json:"problems"`

	// Wave is the sequential cycle the batch runs in. Batches in the same
	// wave never share a dependency.
	Wave int `json:"wave"`
}

// Dependencies returns the sorted union of the dependencies of every problem in the batch
func (b Batch) Dependencies() []string {
	var deps []string
	for _, p := range b.Problems {
		deps = append(deps, p.Dependencies...)
	}
	slices.Sort(deps)
	return slices.Compact(deps)
}

// SharesDependency reports whether two batches touch a common dependency
func (b Batch) SharesDependency(other Batch) bool {
	theirs := other.Dependencies()
	for _, d := range b.Dependencies() {
		if _, found := slices.BinarySearch(theirs, d); found {
			return true
		}
	}
	return false
}

// Check verifies the structural invariants of a single batch. maxSize <= 0
// skips the size check.
func (b Batch) Check(maxSize int) error {
	if len(b.Problems) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyBatch, b.ID)
	}
	if maxSize > 0 && len(b.Problems) > maxSize {
		return fmt.Errorf("%w: %s has %d problems, max %d", ErrBatchTooLarge, b.ID, len(b.Problems), maxSize)
	}
	for _, p := range b.Problems {
		if p.Category != b.Category {
			return fmt.Errorf("%w: %s is %s but contains %s (%s)", ErrMixedCategoryBatch, b.ID, b.Category, p.ID, p.Category)
		}
		if p.RiskLevel >= problem.RiskHigh {
			return fmt.Errorf("%w: %s contains %s", ErrHighRiskBatched, b.ID, p.ID)
		}
	}
	return nil
}

// Plan is the output of prioritization for one phase
type Plan struct {
	Batches  []Batch    `json:"batches"`
	Deferred []Deferral `json:"deferred"`
}

// Waves groups batches by wave in execution order
func (p Plan) Waves() [][]Batch {
	var waves [][]Batch
	for _, b := range p.Batches {
		for len(waves) <= b.Wave {
			waves = append(waves, nil)
		}
		waves[b.Wave] = append(waves[b.Wave], b)
	}
	return slices.DeleteFunc(waves, func(w []Batch) bool { return len(w) == 0 })
}

// BatchedCount returns the number of problems across all batches
func (p Plan) BatchedCount() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Problems)
	}
	return n
}

// DeferredByCategory counts deferred problems per category
func (p Plan) DeferredByCategory() map[problem.Category]int {
	counts := make(map[problem.Category]int)
	for _, d := range p.Deferred {
		counts[d.Problem.Category]++
	}
	return counts
}

// Check verifies every batch and that no problem is scheduled twice and no
// wave contains dependency-conflicting batches.
func (p Plan) Check(maxBatchSize int) error {
	seen := make(map[string]struct{})
	for _, b := range p.Batches {
		if err := b.Check(maxBatchSize); err != nil {
			return err
		}
		for _, pr := range b.Problems {
			if _, dup := seen[pr.ID]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateProblem, pr.ID)
			}
			seen[pr.ID] = struct{}{}
		}
	}
	for _, d := range p.Deferred {
		if _, dup := seen[d.Problem.ID]; dup {
			return fmt.Errorf("%w: %s is both batched and deferred", ErrDuplicateProblem, d.Problem.ID)
		}
		seen[d.Problem.ID] = struct{}{}
	}
	for _, wave := range p.Waves() {
		for i := range wave {
			for j := i + 1; j < len(wave); j++ {
				if wave[i].SharesDependency(wave[j]) {
					return fmt.Errorf("%w: %s and %s", ErrDependencyConflict, wave[i].ID, wave[j].ID)
				}
			}
		}
	}
	return nil
}

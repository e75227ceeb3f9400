// Package compliance tracks the run-wide compliance score. The score only
// moves up and never passes its target.
package compliance

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

var (
	ErrInvalidTarget      = errors.New("target score must be within (0,100]")
	ErrInvalidPhaseWeight = errors.New("phase weight must be positive")
)

// State is the persisted compliance state of a run.
type State struct {
	CurrentScore            float64                      `json:"current_score"`
	TargetScore             float64                      `json:"target_score"`
	PerCategoryContribution map[problem.Category]float64 `json:"per_category_contribution"`
	UpdatedAt               time.Time                    `json:"updated_at"`
}

// NewState creates a state starting at initial, clamped into [0, target].
func NewState(initial, target float64) (State, error) {
	if target <= 0 || target > 100 {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidTarget, target)
	}
	return State{
		CurrentScore:            clamp(initial, 0, target),
		TargetScore:             target,
		PerCategoryContribution: make(map[problem.Category]float64),
	}, nil
}

// Reached reports whether the target has been hit.
func (s State) Reached() bool {
	return s.CurrentScore >= s.TargetScore
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.PerCategoryContribution = maps.Clone(s.PerCategoryContribution)
	if out.PerCategoryContribution == nil {
		out.PerCategoryContribution = make(map[problem.Category]float64)
	}
	return out
}

// CategoryOutcome summarizes one category's validated fixes in a phase.
type CategoryOutcome struct {
	Category    problem.Category
	Succeeded   int
	Provisional bool
}

// Delta describes what one phase contributed.
type Delta struct {
	Total       float64                      `json:"total"`
	PerCategory map[problem.Category]float64 `json:"per_category"`
	Clamped     bool                         `json:"clamped"`
}

// Tracker turns phase outcomes into compliance updates.
type Tracker struct {
	table       *problem.Table
	phaseWeight float64
	now         func() time.Time
}

// NewTracker creates a tracker. phaseWeight is the most a single phase can
// add to the score. A nil table uses problem.DefaultTable.
func NewTracker(table *problem.Table, phaseWeight float64) (*Tracker, error) {
	if phaseWeight <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPhaseWeight, phaseWeight)
	}
	if table == nil {
		table = problem.DefaultTable()
	}
	return &Tracker{table: table, phaseWeight: phaseWeight, now: time.Now}, nil
}

// ApplyPhaseResults folds one phase into prev and returns the new state.
//
// Each non-provisional category contributes
//
//	phaseWeight * succeeded/totalApplicable * weight/maxWeight
//
// so a phase adds at most phaseWeight. The result is
// min(prev + delta, target); provisional categories contribute nothing.
func (t *Tracker) ApplyPhaseResults(outcomes []CategoryOutcome, totalApplicable int, prev State) (State, Delta) {
	next := prev.Clone()
	delta := Delta{PerCategory: make(map[problem.Category]float64)}
	if totalApplicable <= 0 || prev.Reached() {
		next.UpdatedAt = t.now()
		return next, delta
	}

	maxWeight := t.maxWeight()
	raw := 0.0
	for _, o := range outcomes {
		if o.Provisional || o.Succeeded <= 0 {
			continue
		}
		profile, _ := t.table.Profile(o.Category)
		if profile.Weight <= 0 || maxWeight <= 0 {
			continue
		}
		contribution := t.phaseWeight * float64(o.Succeeded) / float64(totalApplicable) * profile.Weight / maxWeight
		delta.PerCategory[o.Category] += contribution
		raw += contribution
	}

	headroom := prev.TargetScore - prev.CurrentScore
	applied := raw
	if raw > headroom {
		applied = headroom
		delta.Clamped = true
		// Scale per-category contributions to what was actually applied.
		for c, v := range delta.PerCategory {
			delta.PerCategory[c] = v * applied / raw
		}
	}

	delta.Total = applied
	if delta.Clamped {
		next.CurrentScore = prev.TargetScore
	} else {
		next.CurrentScore = min(prev.CurrentScore+applied, prev.TargetScore)
	}
	for c, v := range delta.PerCategory {
		next.PerCategoryContribution[c] += v
	}
	next.UpdatedAt = t.now()
	return next, delta
}

// Advance applies an explicit delta, used when replaying recorded phases.
// Negative deltas are ignored.
func (t *Tracker) Advance(prev State, delta float64) State {
	next := prev.Clone()
	if delta > 0 {
		next.CurrentScore = min(prev.CurrentScore+delta, prev.TargetScore)
	}
	next.UpdatedAt = t.now()
	return next
}

func (t *Tracker) maxWeight() float64 {
	m := 0.0
	for _, c := range t.table.Categories() {
		p, _ := t.table.Profile(c)
		m = max(m, p.Weight)
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

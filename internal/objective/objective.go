// Package objective tracks named advancement targets that progress with
// each phase's fix volume, independent of the compliance score.
package objective

import (
	"errors"
	"fmt"
	"slices"
)

// TargetProgress is the fixed goal of every objective.
const TargetProgress = 100.0

// FlagParallelizable doubles the objective's share of a phase's volume.
// No default objective carries it; configured objectives opt in.
const FlagParallelizable = "parallelizable"

var (
	ErrDuplicateObjective = errors.New("duplicate objective name")
	ErrEmptyName          = errors.New("objective name is required")
)

// Objective is a named advancement target.
type Objective struct {
	Name             string   `json:"name"`
	CurrentProgress  float64  `json:"current_progress"`
	TargetProgress   float64  `json:"target_progress"`
	StrategyTag      string   `json:"strategy_tag"`
	EnhancementFlags []string `json:"enhancement_flags,omitempty"`

	// Phases lists the phases the objective is relevant to. Empty means all.
	Phases []string `json:"phases,omitempty"`
}

// Complete reports whether the objective reached its target.
func (o Objective) Complete() bool {
	return o.CurrentProgress >= o.TargetProgress
}

// RelevantTo reports whether phase advances this objective.
func (o Objective) RelevantTo(phase string) bool {
	return len(o.Phases) == 0 || slices.Contains(o.Phases, phase)
}

// HasFlag reports whether an enhancement flag is set.
func (o Objective) HasFlag(flag string) bool {
	return slices.Contains(o.EnhancementFlags, flag)
}

// Clone returns a deep copy of o.
func (o Objective) Clone() Objective {
	o.EnhancementFlags = slices.Clone(o.EnhancementFlags)
	o.Phases = slices.Clone(o.Phases)
	return o
}

// Defaults returns the built-in objectives, all at zero progress.
func Defaults() []Objective {
	return []Objective{
		{
			Name: "security_hardening", TargetProgress: TargetProgress,
			StrategyTag: "defer-and-escalate high risk findings",
			Phases:      []string{"stabilize", "finalize_readiness"},
		},
		{
			Name: "automation_coverage", TargetProgress: TargetProgress,
			StrategyTag: "expand registered fix capabilities",
		},
		{
			Name: "predictive_maintenance", TargetProgress: TargetProgress,
			StrategyTag: "calibrate effort estimates from measured fix time",
			Phases:      []string{"raise_compliance"},
		},
		{
			Name: "operational_readiness", TargetProgress: TargetProgress,
			StrategyTag: "drive compliance toward target",
			Phases:      []string{"raise_compliance", "finalize_readiness"},
		},
		{
			Name: "integration_health", TargetProgress: TargetProgress,
			StrategyTag: "keep dependency manifests consistent",
			Phases:      []string{"stabilize", "raise_compliance"},
		},
	}
}

// Set holds a run's objectives in a stable order.
type Set struct {
	objectives []Objective
}

// NewSet creates a set, validating names and clamping progress.
func NewSet(objectives []Objective) (*Set, error) {
	seen := make(map[string]struct{}, len(objectives))
	out := make([]Objective, 0, len(objectives))
	for _, o := range objectives {
		if o.Name == "" {
			return nil, ErrEmptyName
		}
		if _, dup := seen[o.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateObjective, o.Name)
		}
		seen[o.Name] = struct{}{}
		o = o.Clone()
		o.TargetProgress = TargetProgress
		o.CurrentProgress = max(0, min(o.CurrentProgress, TargetProgress))
		out = append(out, o)
	}
	return &Set{objectives: out}, nil
}

// All returns a copy of the objectives.
func (s *Set) All() []Objective {
	out := make([]Objective, len(s.objectives))
	for i, o := range s.objectives {
		out[i] = o.Clone()
	}
	return out
}

// Get returns an objective by name.
func (s *Set) Get(name string) (Objective, bool) {
	for _, o := range s.objectives {
		if o.Name == name {
			return o.Clone(), true
		}
	}
	return Objective{}, false
}

// Advance distributes a phase's fix volume evenly across the objectives
// relevant to phase. Each share is capped at maxPerPhase, progress is clamped
// to 100 and never decreases. Objectives flagged parallelizable take a
// double share. Returns the increment applied per objective.
func (s *Set) Advance(phase string, fixVolume, maxPerPhase float64) map[string]float64 {
	applied := make(map[string]float64)
	if fixVolume <= 0 || maxPerPhase <= 0 {
		return applied
	}

	var relevant []int
	for i, o := range s.objectives {
		if o.RelevantTo(phase) && !o.Complete() {
			relevant = append(relevant, i)
		}
	}
	if len(relevant) == 0 {
		return applied
	}

	share := fixVolume / float64(len(relevant))
	for _, i := range relevant {
		o := &s.objectives[i]
		inc := share
		if o.HasFlag(FlagParallelizable) {
			inc *= 2
		}
		inc = min(inc, maxPerPhase, o.TargetProgress-o.CurrentProgress)
		if inc <= 0 {
			continue
		}
		o.CurrentProgress += inc
		applied[o.Name] = inc
	}
	return applied
}

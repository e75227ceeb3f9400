package prioritize

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// Engine builds fix plans. The category table is only used to break ties
// between categories whose best problems rank equally.
type Engine struct {
	table *problem.Table
}

// NewEngine creates an engine. A nil table uses problem.DefaultTable.
func NewEngine(table *problem.Table) *Engine {
	if table == nil {
		table = problem.DefaultTable()
	}
	return &Engine{table: table}
}

// BuildBatches builds a plan with the default category table
func BuildBatches(problems []problem.Problem, maxBatchSize int, riskCeiling problem.RiskLevel) (Plan, error) {
	return NewEngine(nil).BuildBatches(problems, maxBatchSize, riskCeiling)
}

// BuildBatches partitions problems into batches and a deferred set.
//
// Admitted problems are auto-fixable with risk at or below riskCeiling;
// HIGH risk is always deferred. Admitted problems are sorted by priority
// desc, risk asc, effort desc, grouped by category and chunked into batches
// of at most maxBatchSize. Categories are emitted in the order of their
// best-ranked problem. Finally batches are assigned to waves so no wave
// holds two batches sharing a dependency.
func (e *Engine) BuildBatches(problems []problem.Problem, maxBatchSize int, riskCeiling problem.RiskLevel) (Plan, error) {
	if maxBatchSize < 1 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, maxBatchSize)
	}

	plan := Plan{
		Batches:  []Batch{},
		Deferred: []Deferral{},
	}

	admitted := make([]problem.Problem, 0, len(problems))
	for _, p := range problems {
		if reason, deferred := deferralReason(p, riskCeiling); deferred {
			plan.Deferred = append(plan.Deferred, Deferral{Problem: p, Reason: reason})
			continue
		}
		admitted = append(admitted, p)
	}
	if len(admitted) == 0 {
		return plan, nil
	}

	slices.SortStableFunc(admitted, compareProblems)

	// Problems arrive sorted, so the first problem seen per category is its best.
	var order []problem.Category
	byCategory := make(map[problem.Category][]problem.Problem)
	for _, p := range admitted {
		if _, ok := byCategory[p.Category]; !ok {
			order = append(order, p.Category)
		}
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}
	slices.SortStableFunc(order, func(a, b problem.Category) int {
		if c := compareProblems(byCategory[a][0], byCategory[b][0]); c != 0 {
			return c
		}
		pa, _ := e.table.Profile(a)
		pb, _ := e.table.Profile(b)
		if c := cmp.Compare(pb.Priority, pa.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	for _, cat := range order {
		members := byCategory[cat]
		for i, chunk := 0, 1; i < len(members); i, chunk = i+maxBatchSize, chunk+1 {
			end := min(i+maxBatchSize, len(members))
			plan.Batches = append(plan.Batches, Batch{
				ID:       fmt.Sprintf("%s-%02d", strings.ToLower(string(cat)), chunk),
				Category: cat,
				Problems: slices.Clone(members[i:end]),
			})
		}
	}

	assignWaves(plan.Batches)
	return plan, nil
}

func deferralReason(p problem.Problem, ceiling problem.RiskLevel) (DeferralReason, bool) {
	switch {
	case p.RiskLevel >= problem.RiskHigh:
		return ReasonHighRisk, true
	case !p.AutoFixable:
		return ReasonNotAutoFixable, true
	case p.RiskLevel > ceiling:
		return ReasonRiskAboveCeiling, true
	default:
		return "", false
	}
}

// compareProblems orders by priority desc, risk asc, effort desc, then id.
func compareProblems(a, b problem.Problem) int {
	if c := cmp.Compare(b.FixPriority, a.FixPriority); c != 0 {
		return c
	}
	if c := cmp.Compare(a.RiskLevel, b.RiskLevel); c != 0 {
		return c
	}
	if c := cmp.Compare(b.EstimatedEffortSeconds, a.EstimatedEffortSeconds); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// assignWaves places each batch, in emission order, into the earliest wave
// that holds no batch sharing one of its dependencies.
func assignWaves(batches []Batch) {
	var waveDeps []map[string]struct{}
	for i := range batches {
		deps := batches[i].Dependencies()
		wave := 0
		for ; wave < len(waveDeps); wave++ {
			if !overlaps(waveDeps[wave], deps) {
				break
			}
		}
		if wave == len(waveDeps) {
			waveDeps = append(waveDeps, make(map[string]struct{}))
		}
		for _, d := range deps {
			waveDeps[wave][d] = struct{}{}
		}
		batches[i].Wave = wave
	}
}

func overlaps(set map[string]struct{}, deps []string) bool {
	for _, d := range deps {
		if _, ok := set[d]; ok {
			return true
		}
	}
	return false
}

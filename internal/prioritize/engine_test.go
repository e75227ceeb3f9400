package prioritize

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remediator/internal/problem"
)

func classifyN(n int, category, severity string) []problem.Problem {
	c := problem.NewClassifier(nil)
	out := make([]problem.Problem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.Classify(problem.RawProblem{
			Category: category,
			Severity: severity,
			Message:  fmt.Sprintf("%s #%d", category, i),
			Path:     fmt.Sprintf("src/file_%d.go", i),
			Line:     i + 1,
		}))
	}
	return out
}

func TestBuildBatches_SyntaxFeedFitsOneBatch(t *testing.T) {
	problems := classifyN(7, "SYNTAX_ERROR", "ERROR")

	plan, err := BuildBatches(problems, 25, problem.RiskMedium)
	require.NoError(t, err)

	require.Len(t, plan.Batches, 1)
	assert.Len(t, plan.Batches[0].Problems, 7)
	assert.Equal(t, problem.CategorySyntax, plan.Batches[0].Category)
	assert.Empty(t, plan.Deferred)
}

func TestBuildBatches_SecurityFeedFullyDeferred(t *testing.T) {
	problems := classifyN(17, "SECURITY_VIOLATION", "ERROR")

	plan, err := BuildBatches(problems, 25, problem.RiskMedium)
	require.NoError(t, err)

	assert.Empty(t, plan.Batches)
	require.Len(t, plan.Deferred, 17)
	for _, d := range plan.Deferred {
		assert.Equal(t, ReasonHighRisk, d.Reason)
	}
	assert.Equal(t, map[problem.Category]int{problem.CategorySecurity: 17}, plan.DeferredByCategory())
}

func TestBuildBatches_EmptyInput(t *testing.T) {
	plan, err := BuildBatches(nil, 10, problem.RiskMedium)
	require.NoError(t, err)
	assert.Empty(t, plan.Batches)
	assert.Empty(t, plan.Deferred)
}

func TestBuildBatches_InvalidBatchSize(t *testing.T) {
	_, err := BuildBatches(classifyN(1, "LINT", "INFO"), 0, problem.RiskMedium)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestBuildBatches_RiskCeiling(t *testing.T) {
	problems := append(classifyN(3, "TYPE_ERROR", "ERROR"), classifyN(2, "LINT", "WARNING")...)

	plan, err := BuildBatches(problems, 10, problem.RiskLow)
	require.NoError(t, err)

	require.Len(t, plan.Batches, 1)
	assert.Equal(t, problem.CategoryLint, plan.Batches[0].Category)
	require.Len(t, plan.Deferred, 3)
	for _, d := range plan.Deferred {
		assert.Equal(t, ReasonRiskAboveCeiling, d.Reason)
	}
}

func TestBuildBatches_HighCeilingStillDefersHighRisk(t *testing.T) {
	p := classifyN(1, "LINT", "ERROR")[0]
	p.RiskLevel = problem.RiskHigh

	plan, err := BuildBatches([]problem.Problem{p}, 10, problem.RiskHigh)
	require.NoError(t, err)
	assert.Empty(t, plan.Batches)
	require.Len(t, plan.Deferred, 1)
	assert.Equal(t, ReasonHighRisk, plan.Deferred[0].Reason)
}

func TestBuildBatches_ChunksAndOrdering(t *testing.T) {
	lint := classifyN(5, "LINT", "INFO")
	syntax := classifyN(3, "SYNTAX_ERROR", "WARNING")
	syntax[2].Severity = problem.SeverityError
	syntax[2].FixPriority = problem.PriorityHigh

	plan, err := BuildBatches(append(lint, syntax...), 2, problem.RiskMedium)
	require.NoError(t, err)

	// Syntax holds the only HIGH priority problem, so it goes first.
	require.Len(t, plan.Batches, 5)
	assert.Equal(t, problem.CategorySyntax, plan.Batches[0].Category)
	assert.Equal(t, syntax[2].ID, plan.Batches[0].Problems[0].ID)
	assert.Equal(t, problem.CategorySyntax, plan.Batches[1].Category)
	for _, b := range plan.Batches[2:] {
		assert.Equal(t, problem.CategoryLint, b.Category)
	}
	assert.Len(t, plan.Batches[4].Problems, 1)
	assert.Equal(t, "lint_formatting-03", plan.Batches[4].ID)
}

func TestBuildBatches_SortWithinCategory(t *testing.T) {
	c := problem.NewClassifier(nil)
	mk := func(id, severity string, effort float64) problem.Problem {
		p := c.Classify(problem.RawProblem{ID: id, Category: "TYPE_ERROR", Severity: severity, Message: id})
		p.EstimatedEffortSeconds = effort
		return p
	}
	problems := []problem.Problem{
		mk("warn-small", "WARNING", 5),
		mk("err-small", "ERROR", 5),
		mk("err-big", "ERROR", 50),
		mk("info", "INFO", 500),
	}

	plan, err := BuildBatches(problems, 10, problem.RiskMedium)
	require.NoError(t, err)
	require.Len(t, plan.Batches, 1)

	var ids []string
	for _, p := range plan.Batches[0].Problems {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"err-big", "err-small", "warn-small", "info"}, ids)
}

func TestBuildBatches_DependencyConflictsUseWaves(t *testing.T) {
	// Every import fix touches go.mod, so chunks of the same category cannot overlap.
	imports := classifyN(5, "IMPORT_ERROR", "ERROR")
	lint := classifyN(2, "LINT", "INFO")

	plan, err := BuildBatches(append(imports, lint...), 2, problem.RiskMedium)
	require.NoError(t, err)
	require.NoError(t, plan.Check(2))

	waves := plan.Waves()
	require.Len(t, waves, 3)
	for _, wave := range waves {
		imported := 0
		for _, b := range wave {
			if b.Category == problem.CategoryImport {
				imported++
			}
		}
		assert.LessOrEqual(t, imported, 1)
	}
	// The lint batch has no dependencies and joins the first wave.
	assert.Len(t, waves[0], 2)
}

func TestPlanCheck_DetectsStructuralViolations(t *testing.T) {
	lint := classifyN(2, "LINT", "INFO")
	syntax := classifyN(1, "SYNTAX_ERROR", "ERROR")

	mixed := Plan{Batches: []Batch{{ID: "b", Category: problem.CategoryLint, Problems: append(lint, syntax...)}}}
	assert.ErrorIs(t, mixed.Check(10), ErrMixedCategoryBatch)

	risky := lint[0]
	risky.RiskLevel = problem.RiskHigh
	high := Plan{Batches: []Batch{{ID: "b", Category: problem.CategoryLint, Problems: []problem.Problem{risky}}}}
	assert.ErrorIs(t, high.Check(10), ErrHighRiskBatched)

	big := Plan{Batches: []Batch{{ID: "b", Category: problem.CategoryLint, Problems: lint}}}
	assert.ErrorIs(t, big.Check(1), ErrBatchTooLarge)

	dup := Plan{
		Batches:  []Batch{{ID: "b", Category: problem.CategoryLint, Problems: lint[:1]}},
		Deferred: []Deferral{{Problem: lint[0], Reason: ReasonHighRisk}},
	}
	assert.ErrorIs(t, dup.Check(10), ErrDuplicateProblem)

	imports := classifyN(2, "IMPORT_ERROR", "ERROR")
	conflict := Plan{Batches: []Batch{
		{ID: "a", Category: problem.CategoryImport, Problems: imports[:1]},
		{ID: "b", Category: problem.CategoryImport, Problems: imports[1:]},
	}}
	assert.ErrorIs(t, conflict.Check(10), ErrDependencyConflict)
}

func randomProblems(r *rand.Rand, n int) []problem.Problem {
	categories := append(problem.AllCategories(), problem.CategoryUnknown)
	severities := []problem.Severity{problem.SeverityError, problem.SeverityWarning, problem.SeverityInfo}
	deps := []string{"go.mod", "registry", "schema.sql", "config.yaml"}

	out := make([]problem.Problem, 0, n)
	for i := 0; i < n; i++ {
		sev := severities[r.IntN(len(severities))]
		p := problem.Problem{
			ID:                     fmt.Sprintf("p-%04d", i),
			Category:               categories[r.IntN(len(categories))],
			Severity:               sev,
			Location:               problem.Location{Path: fmt.Sprintf("f%d.go", r.IntN(6))},
			AutoFixable:            r.IntN(4) != 0,
			RiskLevel:              problem.RiskLevel(r.IntN(3) + 1),
			EstimatedEffortSeconds: float64(r.IntN(300)),
			FixPriority:            problem.PriorityForSeverity(sev),
		}
		if r.IntN(2) == 0 {
			p.Dependencies = []string{deps[r.IntN(len(deps))]}
		}
		out = append(out, p)
	}
	return out
}

func TestBuildBatches_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))

	for iter := 0; iter < 200; iter++ {
		problems := randomProblems(r, r.IntN(80))
		maxBatch := r.IntN(10) + 1
		ceiling := problem.RiskLevel(r.IntN(3) + 1)

		plan, err := BuildBatches(problems, maxBatch, ceiling)
		require.NoError(t, err)

		// Every problem lands in exactly one place.
		assert.Equal(t, len(problems), plan.BatchedCount()+len(plan.Deferred))
		require.NoError(t, plan.Check(maxBatch), "iteration %d", iter)

		for _, b := range plan.Batches {
			assert.LessOrEqual(t, len(b.Problems), maxBatch)
			for _, p := range b.Problems {
				assert.Equal(t, b.Category, p.Category)
				assert.NotEqual(t, problem.RiskHigh, p.RiskLevel)
				assert.LessOrEqual(t, p.RiskLevel, ceiling)
				assert.True(t, p.AutoFixable)
			}
		}
		for _, d := range plan.Deferred {
			admissible := d.Problem.AutoFixable && d.Problem.RiskLevel <= ceiling && d.Problem.RiskLevel != problem.RiskHigh
			assert.False(t, admissible, "problem %s deferred without cause", d.Problem.ID)
		}
	}
}

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

func tempStore(t *testing.T, cacheSize int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"), Options{CacheSize: cacheSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleState(t *testing.T, runID string) *orchestrator.RunState {
	t.Helper()
	cs, err := compliance.NewState(94.54, 98)
	require.NoError(t, err)
	cs.PerCategoryContribution[problem.CategoryLint] = 0.16
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &orchestrator.RunState{
		RunID:      runID,
		Compliance: cs,
		Objectives: objective.Defaults(),
		Phases:     []string{"stabilize"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestStore_LoadMissingRun(t *testing.T) {
	s := tempStore(t, 0)
	_, err := s.LoadRun(context.Background(), "nope")
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func TestStore_SaveAndLoadRun(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	want := sampleState(t, "run-1")
	require.NoError(t, s.SaveRun(ctx, want))

	got, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.Compliance.CurrentScore, got.Compliance.CurrentScore)
	assert.Equal(t, 0.16, got.Compliance.PerCategoryContribution[problem.CategoryLint])
	assert.Equal(t, want.Phases, got.Phases)
	assert.Len(t, got.Objectives, len(want.Objectives))

	// Purge so the row is read back from disk.
	s.cache.Purge()
	fromDisk, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, got.Compliance.CurrentScore, fromDisk.Compliance.CurrentScore)
	assert.True(t, want.CreatedAt.Equal(fromDisk.CreatedAt))
}

func TestStore_SaveRunUpserts(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	st := sampleState(t, "run-1")
	require.NoError(t, s.SaveRun(ctx, st))

	st.Compliance.CurrentScore = 96
	st.Phases = append(st.Phases, "raise_compliance")
	require.NoError(t, s.SaveRun(ctx, st))

	s.cache.Purge()
	got, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 96.0, got.Compliance.CurrentScore)
	assert.Equal(t, []string{"stabilize", "raise_compliance"}, got.Phases)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestStore_CachedStateIsNotAliased(t *testing.T) {
	s := tempStore(t, 4)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleState(t, "run-1")))

	first, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	first.Phases[0] = "mutated"
	first.Compliance.PerCategoryContribution[problem.CategoryLint] = 99
	first.Objectives[0].CurrentProgress = 50

	second, err := s.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "stabilize", second.Phases[0])
	assert.Equal(t, 0.16, second.Compliance.PerCategoryContribution[problem.CategoryLint])
	assert.Zero(t, second.Objectives[0].CurrentProgress)
}

func TestStore_SaveRunRequiresID(t *testing.T) {
	s := tempStore(t, 0)
	assert.Error(t, s.SaveRun(context.Background(), &orchestrator.RunState{}))
	assert.Error(t, s.SaveRun(context.Background(), nil))
}

func TestStore_ReportsKeepAppendOrder(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()

	phases := []string{"stabilize", "raise_compliance", "finalize_readiness"}
	for i, name := range phases {
		require.NoError(t, s.AppendReport(ctx, &orchestrator.PhaseReport{
			RunID:              "run-1",
			PhaseName:          name,
			ErrorsProcessed:    10 * (i + 1),
			DeferredByCategory: map[problem.Category]int{problem.CategorySecurity: i},
			NextActions:        []string{"Register a fix capability for TYPE_ERROR"},
		}))
	}
	require.NoError(t, s.AppendReport(ctx, &orchestrator.PhaseReport{RunID: "other", PhaseName: "stabilize"}))

	reports, err := s.Reports(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, phases[i], r.PhaseName)
		assert.Equal(t, 10*(i+1), r.ErrorsProcessed)
	}
	assert.Equal(t, 2, reports[2].DeferredByCategory[problem.CategorySecurity])

	none, err := s.Reports(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendReport(ctx, &orchestrator.PhaseReport{RunID: "run-c", PhaseName: "stabilize"}))
		}()
	}
	wg.Wait()

	reports, err := s.Reports(ctx, "run-c")
	require.NoError(t, err)
	assert.Len(t, reports, 8)
}

func TestStore_WorksAsRunnerBackend(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	st := sampleState(t, "run-r")
	require.NoError(t, s.SaveRun(ctx, st))
	require.NoError(t, s.AppendReport(ctx, &orchestrator.PhaseReport{RunID: "run-r", PhaseName: "stabilize"}))

	runner := orchestrator.NewRunner(nil, s, nil, orchestrator.RunnerOptions{InitialScore: 0, TargetScore: 98}, nil)
	state, history, err := runner.Status(ctx, "run-r")
	require.NoError(t, err)
	assert.Equal(t, 94.54, state.Compliance.CurrentScore)
	assert.Len(t, history, 1)
}

func TestStore_CommitPhase(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	st := sampleState(t, "run-p")

	require.NoError(t, s.CommitPhase(ctx, st, &orchestrator.PhaseReport{RunID: "run-p", PhaseName: "stabilize"}))

	got, err := s.LoadRun(ctx, "run-p")
	require.NoError(t, err)
	assert.Equal(t, st.Phases, got.Phases)
	reports, err := s.Reports(ctx, "run-p")
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestStore_CommitPhaseRollsBackWhenStateWriteFails(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `CREATE TRIGGER reject_runs BEFORE INSERT ON runs
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	err = s.CommitPhase(ctx, sampleState(t, "run-f"), &orchestrator.PhaseReport{RunID: "run-f", PhaseName: "stabilize"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	reports, err := s.Reports(ctx, "run-f")
	require.NoError(t, err)
	assert.Empty(t, reports, "the report insert must roll back with the failed state write")
	_, err = s.LoadRun(ctx, "run-f")
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func TestStore_CommitPhaseRejectsMismatchedRun(t *testing.T) {
	s := tempStore(t, 0)
	err := s.CommitPhase(context.Background(), sampleState(t, "run-a"), &orchestrator.PhaseReport{RunID: "run-b"})
	assert.Error(t, err)
	assert.Error(t, s.CommitPhase(context.Background(), nil, &orchestrator.PhaseReport{RunID: "run-b"}))
}

func TestStore_ListRunsReportsCorruptTimestamps(t *testing.T) {
	s := tempStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleState(t, "run-t")))
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET created_at = 'yesterday' WHERE run_id = ?`, "run-t")
	require.NoError(t, err)

	_, err = s.ListRuns(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-t")
}

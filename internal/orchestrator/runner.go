package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// ErrRunNotFound is returned by a RunStore for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// RunState is the persisted state of a run between phases.
type RunState struct {
	RunID      string                `json:"run_id"`
	Compliance compliance.State      `json:"compliance"`
	Objectives []objective.Objective `json:"objectives"`
	Phases     []string              `json:"phases"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// RunStore persists run state and the phase history.
type RunStore interface {
	LoadRun(ctx context.Context, runID string) (*RunState, error)
	// CommitPhase appends report to the history and saves state atomically.
	CommitPhase(ctx context.Context, state *RunState, report *PhaseReport) error
	Reports(ctx context.Context, runID string) ([]*PhaseReport, error)
}

// EventPublisher announces phase lifecycle events.
type EventPublisher interface {
	PhaseStarted(ctx context.Context, runID string, spec PhaseSpec) error
	PhaseCompleted(ctx context.Context, report *PhaseReport) error
	PhaseFailed(ctx context.Context, runID, phase string, cause error) error
}

// FeedSource returns the detector feed for a phase. It is called once per
// phase because problems are re-derived every phase.
type FeedSource func(ctx context.Context, phase PhaseSpec) ([]problem.RawProblem, error)

// RunnerOptions configure new runs.
type RunnerOptions struct {
	InitialScore float64
	TargetScore  float64
	Objectives   []objective.Objective // nil uses objective.Defaults
}

// Runner runs phases against persisted runs. Phases of the same run are
// serialized; different runs may proceed concurrently.
type Runner struct {
	coord  *Coordinator
	store  RunStore
	events EventPublisher
	opts   RunnerOptions
	logger *logging.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRunner creates a runner. events and logger may be nil.
func NewRunner(coord *Coordinator, store RunStore, events EventPublisher, opts RunnerOptions, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		coord:  coord,
		store:  store,
		events: events,
		opts:   opts,
		logger: logger.Named("runner"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (r *Runner) lock(runID string) func() {
	r.mu.Lock()
	l, ok := r.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[runID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Open loads a run or starts a new one at the configured initial score.
func (r *Runner) Open(ctx context.Context, runID string) (*RunState, error) {
	state, err := r.store.LoadRun(ctx, runID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrRunNotFound) {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	cs, err := compliance.NewState(r.opts.InitialScore, r.opts.TargetScore)
	if err != nil {
		return nil, err
	}
	objs := r.opts.Objectives
	if objs == nil {
		objs = objective.Defaults()
	}
	now := r.now()
	return &RunState{
		RunID:      runID,
		Compliance: cs,
		Objectives: objs,
		Phases:     []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// RunPhase runs one phase of runID and persists the outcome.
func (r *Runner) RunPhase(ctx context.Context, runID string, spec PhaseSpec, feed []problem.RawProblem) (*PhaseReport, error) {
	unlock := r.lock(runID)
	defer unlock()
	return r.runPhaseLocked(ctx, runID, spec, feed)
}

// RunPlan runs phases in order, pulling a fresh feed for each one. It stops
// at the first hard error or when ctx is cancelled; fatal phases do not
// stop the plan.
func (r *Runner) RunPlan(ctx context.Context, runID string, specs []PhaseSpec, source FeedSource) ([]*PhaseReport, error) {
	unlock := r.lock(runID)
	defer unlock()

	reports := make([]*PhaseReport, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		feed, err := source(ctx, spec)
		if err != nil {
			return reports, fmt.Errorf("loading feed for phase %s: %w", spec.Name, err)
		}
		report, err := r.runPhaseLocked(ctx, runID, spec, feed)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
		if report.Aborted {
			break
		}
	}
	return reports, nil
}

func (r *Runner) runPhaseLocked(ctx context.Context, runID string, spec PhaseSpec, feed []problem.RawProblem) (*PhaseReport, error) {
	ctx = logging.WithRunID(ctx, runID)
	state, err := r.Open(ctx, runID)
	if err != nil {
		return nil, err
	}
	objs, err := objective.NewSet(state.Objectives)
	if err != nil {
		return nil, fmt.Errorf("restoring objectives: %w", err)
	}
	run, err := NewRunContext(runID, state.Compliance, objs, r.logger)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, "phase started", func(p EventPublisher) error { return p.PhaseStarted(ctx, runID, spec) })

	report, err := r.coord.RunPhase(ctx, run, spec, feed)
	if err != nil {
		r.publish(ctx, "phase failed", func(p EventPublisher) error { return p.PhaseFailed(ctx, runID, spec.Name, err) })
		return report, err
	}

	// Persist even when the caller has gone away; fixes were applied.
	persistCtx := context.WithoutCancel(ctx)
	state.Compliance = run.Compliance
	state.Objectives = run.Objectives.All()
	state.Phases = append(state.Phases, spec.Name)
	state.UpdatedAt = r.now()
	if err := r.store.CommitPhase(persistCtx, state, report); err != nil {
		r.publish(persistCtx, "phase failed", func(p EventPublisher) error { return p.PhaseFailed(persistCtx, runID, spec.Name, err) })
		return report, fmt.Errorf("saving phase %s: %w", spec.Name, err)
	}

	r.publish(persistCtx, "phase completed", func(p EventPublisher) error { return p.PhaseCompleted(persistCtx, report) })
	return report, nil
}

// Status returns the persisted state and phase history of a run.
func (r *Runner) Status(ctx context.Context, runID string) (*RunState, []*PhaseReport, error) {
	state, err := r.store.LoadRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	reports, err := r.store.Reports(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading history for %s: %w", runID, err)
	}
	return state, reports, nil
}

// publish delivers an event; delivery failures are logged, never returned.
func (r *Runner) publish(ctx context.Context, what string, fn func(EventPublisher) error) {
	if r.events == nil {
		return
	}
	if err := fn(r.events); err != nil {
		r.logger.Warn(ctx, "event publish failed", zap.String("event", what), zap.Error(err))
	}
}

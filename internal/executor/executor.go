// Package executor applies fix batches through a category-keyed capability
// registry. Per-problem failures are recorded as data; only batch-wide
// failures are returned as errors.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

// ErrFixTimeout is recorded when a fix attempt exceeds its timeout.
var ErrFixTimeout = errors.New("fix attempt timed out")

// FixResult is the write-once record of one fix attempt.
type FixResult struct {
	ProblemID         string           `json:"problem_id"`
	Category          problem.Category `json:"category"`
	Success           bool             `json:"success"`
	ActionTaken       string           `json:"action_taken"`
	ResourcesModified []string         `json:"resources_modified,omitempty"`
	TimeTakenSeconds  float64          `json:"time_taken_seconds"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	RevertRequired    bool             `json:"revert_required,omitempty"`
	TimedOut          bool             `json:"timed_out,omitempty"`
}

// Options bounds execution.
type Options struct {
	// FixTimeout applies to each ApplyFix call. Zero disables it.
	FixTimeout time.Duration

	// FixConcurrency bounds concurrent fixes inside one batch.
	FixConcurrency int

	// WorkerLimit bounds concurrently executing batches within a wave.
	WorkerLimit int

	// FixRate limits fix attempts per second across all batches. Zero disables it.
	FixRate float64
}

// DefaultOptions returns conservative execution bounds.
func DefaultOptions() Options {
	return Options{
		FixTimeout:     2 * time.Minute,
		FixConcurrency: 8,
		WorkerLimit:    4,
	}
}

// Executor runs batches against a registry.
type Executor struct {
	registry *Registry
	opts     Options
	locks    *DependencyLocks
	limiter  *rate.Limiter
	logger   *logging.Logger
	now      func() time.Time
}

// New creates an executor. A nil logger discards output.
func New(registry *Registry, opts Options, logger *logging.Logger) *Executor {
	if opts.FixConcurrency < 1 {
		opts.FixConcurrency = 1
	}
	if opts.WorkerLimit < 1 {
		opts.WorkerLimit = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Executor{
		registry: registry,
		opts:     opts,
		locks:    NewDependencyLocks(),
		logger:   logger.Named("executor"),
		now:      time.Now,
	}
	if opts.FixRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.FixRate), max(1, int(opts.FixRate)))
	}
	return e
}

// Execute applies every fix in batch and returns one result per problem in
// batch order. The batch runs to completion even if ctx is cancelled; each
// attempt only observes its own timeout.
//
// Problems sharing a location path or a dependency id run sequentially;
// other problems may run concurrently up to FixConcurrency. Execute returns
// only after every capability call has returned, including timed-out ones.
func (e *Executor) Execute(ctx context.Context, batch prioritize.Batch) ([]FixResult, error) {
	if err := batch.Check(0); err != nil {
		return nil, err
	}
	capability, ok := e.registry.Lookup(batch.Category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoCapability, batch.Category)
	}

	ctx = logging.WithBatchID(ctx, batch.ID)
	fixCtx := context.WithoutCancel(ctx)
	results := make([]FixResult, len(batch.Problems))

	sem := semaphore.NewWeighted(int64(e.opts.FixConcurrency))
	var g errgroup.Group
	for _, group := range groupByConflict(batch.Problems) {
		// Acquire never fails on a context without cancellation.
		_ = sem.Acquire(fixCtx, 1)
		g.Go(func() error {
			defer sem.Release(1)
			for _, idx := range group {
				results[idx] = e.applyOne(fixCtx, capability, batch.Problems[idx])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// groupByConflict returns problem indexes grouped into sets that must run
// sequentially: problems sharing a location path or a dependency id end up
// in one group, transitively. Groups are in first-seen order and members in
// batch order.
func groupByConflict(problems []problem.Problem) [][]int {
	parent := make([]int, len(problems))
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	owner := make(map[string]int)
	claim := func(key string, i int) {
		if j, ok := owner[key]; ok {
			union(j, i)
			return
		}
		owner[key] = i
	}
	for i, p := range problems {
		if p.Location.Path != "" {
			claim("path:"+p.Location.Path, i)
		}
		for _, dep := range p.Dependencies {
			claim("dep:"+dep, i)
		}
	}

	var groups [][]int
	slot := make(map[int]int)
	for i := range problems {
		root := find(i)
		g, ok := slot[root]
		if !ok {
			g = len(groups)
			slot[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

type attempt struct {
	outcome Outcome
	err     error
}

func (e *Executor) applyOne(ctx context.Context, capability FixCapability, p problem.Problem) FixResult {
	if e.limiter != nil {
		_ = e.limiter.Wait(ctx)
	}

	attemptCtx := ctx
	cancel := func() {}
	if e.opts.FixTimeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, e.opts.FixTimeout)
	}
	defer cancel()

	start := e.now()
	done := make(chan attempt, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attempt{err: fmt.Errorf("fix capability panicked: %v\n%s", r, debug.Stack())}
			}
		}()
		outcome, err := capability.ApplyFix(attemptCtx, p)
		done <- attempt{outcome: outcome, err: err}
	}()

	var a attempt
	select {
	case a = <-done:
	case <-attemptCtx.Done():
		a = attempt{err: attemptCtx.Err()}
		// The next fix on this path or dependency must not start while this
		// one may still be writing.
		<-done
	}
	elapsed := e.now().Sub(start)

	timedOut := errors.Is(a.err, context.DeadlineExceeded) && errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	if timedOut {
		a.err = fmt.Errorf("%w after %s", ErrFixTimeout, e.opts.FixTimeout)
	}

	result := FixResult{
		ProblemID:         p.ID,
		Category:          p.Category,
		ActionTaken:       actionText(p, a.outcome),
		ResourcesModified: slices.Clone(a.outcome.ResourcesModified),
		TimeTakenSeconds:  elapsed.Seconds(),
		RevertRequired:    a.outcome.RevertRequired,
		TimedOut:          timedOut,
	}
	switch {
	case a.err != nil:
		result.ErrorMessage = a.err.Error()
	case a.outcome.RevertRequired:
		result.ErrorMessage = nonEmpty(a.outcome.Diagnostic, "fix requires revert")
	case !a.outcome.Success:
		result.ErrorMessage = nonEmpty(a.outcome.Diagnostic, "fix capability reported failure")
	default:
		result.Success = true
	}

	outcomeLabel := "success"
	switch {
	case timedOut:
		outcomeLabel = "timeout"
	case !result.Success:
		outcomeLabel = "failure"
	}
	FixesTotal.WithLabelValues(string(p.Category), outcomeLabel).Inc()
	FixDuration.WithLabelValues(string(p.Category)).Observe(elapsed.Seconds())

	if result.Success {
		e.logger.Debug(ctx, "fix applied",
			zap.String("problem.id", p.ID),
			zap.String("location", p.Location.String()),
			zap.Duration("took", elapsed))
	} else {
		e.logger.Warn(ctx, "fix failed",
			zap.String("problem.id", p.ID),
			zap.String("location", p.Location.String()),
			zap.Bool("timed_out", timedOut),
			zap.String("error", result.ErrorMessage))
	}
	return result
}

func actionText(p problem.Problem, o Outcome) string {
	if o.Action != "" {
		return o.Action
	}
	return fmt.Sprintf("%s: %s fix for %s", p.Complexity.ActionPrefix(), p.Category, p.Location)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/prioritize"
)

// BatchRun is the outcome of one batch.
type BatchRun struct {
	Batch      prioritize.Batch
	Results    []FixResult
	Err        error // batch-wide failure; Results is nil when set
	Skipped    bool  // not started because the plan was aborted
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded counts successful results.
func (r BatchRun) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Success {
			n++
		}
	}
	return n
}

// PlanRun is the outcome of executing a whole plan.
type PlanRun struct {
	Runs    []BatchRun
	Aborted bool
}

// AbortFunc is consulted before each batch starts. Returning true stops the
// plan; batches already running finish normally.
type AbortFunc func(ctx context.Context) bool

// BatchDoneFunc is called after each batch completes, from the batch's goroutine.
type BatchDoneFunc func(run BatchRun)

// ExecutePlan runs the plan wave by wave. Within a wave up to WorkerLimit
// batches run in parallel, each holding the locks for its dependencies.
// Cancelling ctx or an abort signal stops new batches from starting; the
// remaining ones are reported as skipped. Runs come back in plan order.
func (e *Executor) ExecutePlan(ctx context.Context, plan prioritize.Plan, abort AbortFunc, onDone BatchDoneFunc) PlanRun {
	index := make(map[string]int, len(plan.Batches))
	runs := make([]BatchRun, len(plan.Batches))
	for i, b := range plan.Batches {
		index[b.ID] = i
		runs[i] = BatchRun{Batch: b, Skipped: true}
	}

	aborted := false
	shouldStop := func() bool {
		if aborted {
			return true
		}
		if ctx.Err() != nil || (abort != nil && abort(ctx)) {
			aborted = true
		}
		return aborted
	}

	var mu sync.Mutex
	for waveNum, wave := range plan.Waves() {
		if shouldStop() {
			break
		}
		e.logger.Debug(ctx, "starting wave", zap.Int("wave", waveNum), zap.Int("batches", len(wave)))

		var g errgroup.Group
		slots := semaphore.NewWeighted(int64(e.opts.WorkerLimit))
		for _, batch := range wave {
			// Wait for a free worker first so the abort check happens just
			// before the batch actually starts.
			_ = slots.Acquire(context.WithoutCancel(ctx), 1)
			if shouldStop() {
				slots.Release(1)
				break
			}
			g.Go(func() error {
				defer slots.Release(1)
				run := e.runBatch(ctx, batch)
				mu.Lock()
				runs[index[batch.ID]] = run
				mu.Unlock()
				if onDone != nil {
					onDone(run)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, r := range runs {
		if r.Skipped {
			BatchesTotal.WithLabelValues("skipped").Inc()
		}
	}
	if aborted {
		e.logger.Warn(ctx, "plan aborted between batches")
	}
	return PlanRun{Runs: runs, Aborted: aborted}
}

func (e *Executor) runBatch(ctx context.Context, batch prioritize.Batch) BatchRun {
	release := e.locks.Acquire(batch.Dependencies())
	defer release()

	BatchesInFlight.Inc()
	defer BatchesInFlight.Dec()

	run := BatchRun{Batch: batch, StartedAt: e.now()}
	results, err := e.Execute(ctx, batch)
	run.FinishedAt = e.now()
	run.Results = results
	run.Err = err

	if err != nil {
		BatchesTotal.WithLabelValues("failed").Inc()
		e.logger.Error(logging.WithBatchID(ctx, batch.ID), "batch failed", zap.Error(err))
		return run
	}
	BatchesTotal.WithLabelValues("completed").Inc()
	e.logger.Info(logging.WithBatchID(ctx, batch.ID), "batch completed",
		zap.String("category", string(batch.Category)),
		zap.Int("problems", len(batch.Problems)),
		zap.Int("succeeded", run.Succeeded()),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)))
	return run
}

package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/executor"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/validate"
)

var (
	ErrNilRun        = errors.New("run context is required")
	ErrEmptyPhase    = errors.New("phase name is required")
	ErrMissingDeps   = errors.New("coordinator dependency missing")
	ErrInvalidOption = errors.New("invalid coordinator option")
)

// Planner builds a phase plan from classified problems
type Planner interface {
	BuildBatches(problems []problem.Problem, maxBatchSize int, riskCeiling problem.RiskLevel) (prioritize.Plan, error)
}

// PlanExecutor runs a plan wave by wave
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan prioritize.Plan, abort executor.AbortFunc, onDone executor.BatchDoneFunc) executor.PlanRun
}

// Redactor scrubs secrets from problem messages before they are logged or persisted
type Redactor interface {
	Redact(s string) string
}

// StageProgress reports progress during a phase
type StageProgress struct {
	RunID      string      `json:"run_id"`
	Phase      string      `json:"phase"`
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Message    string      `json:"message"`
	Percentage int         `json:"percentage"`
}

// ProgressCallback receives progress updates during a phase
type ProgressCallback func(progress StageProgress)

// Deps are the collaborators of a Coordinator. Redactor, Logger, Tracer
// and Metrics are optional.
type Deps struct {
	Classifier *problem.Classifier
	Planner    Planner
	Executor   PlanExecutor
	Validator  *validate.Validator
	Tracker    *compliance.Tracker
	Redactor   Redactor
	Logger     *logging.Logger
	Tracer     trace.Tracer
	Metrics    *Metrics
}

// Options bound a phase
type Options struct {
	MaxBatchSize       int
	MaxAdvancePerPhase float64
}

// Coordinator runs phases through the stage sequence. It holds no run state
// and may be shared across runs.
type Coordinator struct {
	deps             Deps
	opts             Options
	gates            []PlanGate
	progressCallback ProgressCallback
	logger           *logging.Logger
	tracer           trace.Tracer
	now              func() time.Time
}

// NewCoordinator creates a coordinator with the default gates registered.
func NewCoordinator(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("%w: classifier", ErrMissingDeps)
	case deps.Planner == nil:
		return nil, fmt.Errorf("%w: planner", ErrMissingDeps)
	case deps.Executor == nil:
		return nil, fmt.Errorf("%w: executor", ErrMissingDeps)
	case deps.Validator == nil:
		return nil, fmt.Errorf("%w: validator", ErrMissingDeps)
	case deps.Tracker == nil:
		return nil, fmt.Errorf("%w: tracker", ErrMissingDeps)
	}
	if opts.MaxBatchSize < 1 {
		return nil, fmt.Errorf("%w: max batch size %d", ErrInvalidOption, opts.MaxBatchSize)
	}
	if opts.MaxAdvancePerPhase <= 0 {
		return nil, fmt.Errorf("%w: max advance per phase %v", ErrInvalidOption, opts.MaxAdvancePerPhase)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}
	return &Coordinator{
		deps:   deps,
		opts:   opts,
		gates:  DefaultGates(),
		logger: logger.Named("coordinator"),
		tracer: tracer,
		now:    time.Now,
	}, nil
}

// RegisterGate adds a gate that runs after the default gates
func (c *Coordinator) RegisterGate(gate PlanGate) {
	c.gates = append(c.gates, gate)
}

// OnProgress sets the progress callback
func (c *Coordinator) OnProgress(callback ProgressCallback) {
	c.progressCallback = callback
}

// phase is the scratch state of one RunPhase call.
type phase struct {
	run      *RunContext
	spec     PhaseSpec
	maxBatch int
	feed     []problem.RawProblem

	problems     []problem.Problem
	plan         prioritize.Plan
	planRun      executor.PlanRun
	deferred     []prioritize.Deferral
	scores       []validate.Score
	noCapability []problem.Category
	validated    int
	attempted    int

	report *PhaseReport
}

// RunPhase runs one phase over feed. The run's compliance state and
// objectives are advanced in place and the report is appended to its
// history.
//
// The only error returned for a started phase is a *ViolationError from a
// plan gate; the partial report is returned with it. Fix failures, batch
// failures, validation below the floor and aborts are reported, not
// returned.
func (c *Coordinator) RunPhase(ctx context.Context, run *RunContext, spec PhaseSpec, feed []problem.RawProblem) (*PhaseReport, error) {
	if run == nil {
		return nil, ErrNilRun
	}
	if spec.Name == "" {
		return nil, ErrEmptyPhase
	}
	if spec.RiskCeiling == 0 {
		spec.RiskCeiling = problem.RiskMedium
	}

	ctx = logging.WithRunID(ctx, run.RunID)
	ctx = logging.WithPhase(ctx, spec.Name)
	ctx, span := c.tracer.Start(ctx, "remediation.phase", trace.WithAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("phase", spec.Name),
		attribute.String("risk_ceiling", spec.RiskCeiling.String()),
		attribute.Int("feed.size", len(feed)),
	))
	defer span.End()

	ph := &phase{
		run:      run,
		spec:     spec,
		maxBatch: cmp.Or(max(spec.MaxBatchSize, 0), c.opts.MaxBatchSize),
		feed:     feed,
		report: &PhaseReport{
			RunID:              run.RunID,
			PhaseName:          spec.Name,
			NextActions:        []string{},
			DeferredByCategory: make(map[problem.Category]int),
			ComplianceBefore:   run.Compliance.CurrentScore,
			ComplianceAfter:    run.Compliance.CurrentScore,
			StartedAt:          c.now(),
		},
	}
	logger := run.Logger.Named("phase")
	logger.Info(ctx, "phase started",
		zap.Int("feed", len(feed)),
		zap.Stringer("risk_ceiling", spec.RiskCeiling),
		zap.Int("max_batch_size", ph.maxBatch),
		zap.Float64("compliance", run.Compliance.CurrentScore))

	stages := AllStages()
	for i, stage := range stages {
		c.reportProgress(StageProgress{
			RunID:      run.RunID,
			Phase:      spec.Name,
			Stage:      stage,
			Status:     StatusInProgress,
			Message:    fmt.Sprintf("Starting stage: %s", stage),
			Percentage: (i * 100) / len(stages),
		})

		result := StageResult{Stage: stage, Status: StatusInProgress, StartedAt: c.now()}
		stageCtx, stageSpan := c.tracer.Start(ctx, "remediation.stage."+string(stage))
		output, err := c.runStage(stageCtx, stage, ph)
		result.CompletedAt = c.now()
		result.Output = output
		c.deps.Metrics.recordStage(stageCtx, stage, result.CompletedAt.Sub(result.StartedAt))

		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
			stageSpan.End()

			ph.report.Stages = append(ph.report.Stages, result)
			for _, rest := range stages[i+1:] {
				ph.report.Stages = append(ph.report.Stages, StageResult{Stage: rest, Status: StatusSkipped})
			}
			ph.report.CompletedAt = c.now()
			ph.report.ExecutionTimeSeconds = ph.report.CompletedAt.Sub(ph.report.StartedAt).Seconds()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.deps.Metrics.recordPhase(ctx, ph.report, phaseOutcome(ph.report, err))
			logger.Error(ctx, "phase stopped", zap.String("stage", string(stage)), zap.Error(err))
			return ph.report, err
		}

		result.Status = StatusCompleted
		stageSpan.End()
		ph.report.Stages = append(ph.report.Stages, result)
		c.reportProgress(StageProgress{
			RunID:      run.RunID,
			Phase:      spec.Name,
			Stage:      stage,
			Status:     StatusCompleted,
			Message:    output,
			Percentage: ((i + 1) * 100) / len(stages),
		})
	}

	report := ph.report
	run.History = append(run.History, report)
	span.SetAttributes(
		attribute.Int("errors.fixed", report.ErrorsFixed),
		attribute.Int("errors.deferred", report.ErrorsDeferred),
		attribute.Float64("validation.score", report.ValidationScore),
		attribute.Bool("fatal", report.Fatal),
		attribute.Bool("aborted", report.Aborted),
	)
	c.deps.Metrics.recordPhase(ctx, report, phaseOutcome(report, nil))

	fields := []zap.Field{
		zap.Int("processed", report.ErrorsProcessed),
		zap.Int("fixed", report.ErrorsFixed),
		zap.Int("failed", report.ErrorsFailed),
		zap.Int("deferred", report.ErrorsDeferred),
		zap.Float64("validation_score", report.ValidationScore),
		zap.Float64("compliance", report.ComplianceAfter),
		zap.Float64("took_seconds", report.ExecutionTimeSeconds),
	}
	switch {
	case report.Fatal:
		logger.Error(ctx, "phase fatal: no batch could be validated", fields...)
	case report.Aborted:
		logger.Warn(ctx, "phase aborted", fields...)
	default:
		logger.Info(ctx, "phase completed", fields...)
	}
	return report, nil
}

func (c *Coordinator) runStage(ctx context.Context, stage Stage, ph *phase) (string, error) {
	switch stage {
	case StageClassify:
		return c.classify(ctx, ph), nil
	case StagePrioritize:
		return c.prioritize(ctx, ph)
	case StageExecuteBatches:
		return c.executeBatches(ctx, ph), nil
	case StageValidate:
		return c.validate(ctx, ph), nil
	case StageUpdateCompliance:
		return c.updateCompliance(ctx, ph), nil
	case StageAdvanceObjectives:
		return c.advanceObjectives(ctx, ph), nil
	case StageReport:
		return c.buildReport(ctx, ph), nil
	default:
		return "", fmt.Errorf("unknown stage %q", stage)
	}
}

func (c *Coordinator) classify(ctx context.Context, ph *phase) string {
	raws := slices.Clone(ph.feed)
	if c.deps.Redactor != nil {
		for i := range raws {
			raws[i].Message = c.deps.Redactor.Redact(raws[i].Message)
		}
	}
	ph.problems = dedupeIDs(c.deps.Classifier.ClassifyAll(raws))

	unknown := 0
	for _, p := range ph.problems {
		if p.Category == problem.CategoryUnknown {
			unknown++
		}
	}
	if unknown > 0 {
		c.logger.Warn(ctx, "unrecognized categories classified conservatively", zap.Int("count", unknown))
	}
	return fmt.Sprintf("classified %d problems (%d unknown)", len(ph.problems), unknown)
}

// dedupeIDs suffixes repeated ids with -2, -3, ... in feed order so every
// problem in a phase has a distinct id.
func dedupeIDs(problems []problem.Problem) []problem.Problem {
	seen := make(map[string]int, len(problems))
	for i := range problems {
		id := problems[i].ID
		seen[id]++
		if seen[id] == 1 {
			continue
		}
		for n := seen[id]; ; n++ {
			candidate := id + "-" + strconv.Itoa(n)
			if _, taken := seen[candidate]; !taken {
				seen[candidate] = 1
				seen[id] = n
				problems[i].ID = candidate
				break
			}
		}
	}
	return problems
}

func (c *Coordinator) prioritize(ctx context.Context, ph *phase) (string, error) {
	plan, err := c.deps.Planner.BuildBatches(ph.problems, ph.maxBatch, ph.spec.RiskCeiling)
	if err != nil {
		return "", fmt.Errorf("building batches: %w", err)
	}
	ph.plan = plan
	ph.report.BatchesPlanned = len(plan.Batches)
	ph.report.Waves = len(plan.Waves())

	in := GateInput{Phase: ph.spec, Problems: ph.problems, Plan: plan, MaxBatchSize: ph.maxBatch}
	var violations []Violation
	for _, gate := range c.gates {
		found, err := gate.Check(ctx, in)
		if err != nil {
			return "", fmt.Errorf("gate %s check failed: %w", gate.Name(), err)
		}
		violations = append(violations, found...)
	}
	c.deps.Metrics.recordViolations(ctx, ph.spec.Name, violations)

	for _, v := range violations {
		if v.Severity == SeverityWarning {
			c.logger.Warn(ctx, "plan gate warning",
				zap.String("gate", v.Gate), zap.String("type", string(v.Type)), zap.String("detail", v.Description))
		}
	}
	if hasBlockingViolation(violations) {
		return "", &ViolationError{Phase: ph.spec.Name, Violations: blocking(violations)}
	}

	ph.deferred = slices.Clone(plan.Deferred)
	return fmt.Sprintf("%d batches in %d waves, %d deferred", len(plan.Batches), ph.report.Waves, len(plan.Deferred)), nil
}

func (c *Coordinator) executeBatches(ctx context.Context, ph *phase) string {
	abort := func(ctx context.Context) bool {
		return ph.run.Abort != nil && ph.run.Abort(ctx)
	}
	onDone := func(br executor.BatchRun) {
		status := StatusCompleted
		if br.Err != nil {
			status = StatusFailed
		}
		c.reportProgress(StageProgress{
			RunID:   ph.run.RunID,
			Phase:   ph.spec.Name,
			Stage:   StageExecuteBatches,
			Status:  status,
			Message: fmt.Sprintf("batch %s: %d/%d fixed", br.Batch.ID, br.Succeeded(), len(br.Batch.Problems)),
		})
	}
	// ExecutePlan invokes onDone from batch goroutines.
	var serialized executor.BatchDoneFunc
	if c.progressCallback != nil {
		progress := make(chan executor.BatchRun)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			for br := range progress {
				onDone(br)
			}
		}()
		defer func() {
			close(progress)
			<-finished
		}()
		serialized = func(br executor.BatchRun) { progress <- br }
	}

	ph.planRun = c.deps.Executor.ExecutePlan(ctx, ph.plan, abort, serialized)
	ph.report.Aborted = ph.planRun.Aborted

	noCap := make(map[problem.Category]struct{})
	for _, br := range ph.planRun.Runs {
		switch {
		case br.Skipped:
			for _, p := range br.Batch.Problems {
				ph.deferred = append(ph.deferred, prioritize.Deferral{Problem: p, Reason: prioritize.ReasonAborted})
			}
		case br.Err != nil:
			ph.attempted++
			ph.report.BatchesFailed++
			if errors.Is(br.Err, executor.ErrNoCapability) {
				noCap[br.Batch.Category] = struct{}{}
			}
			for _, p := range br.Batch.Problems {
				ph.deferred = append(ph.deferred, prioritize.Deferral{Problem: p, Reason: prioritize.ReasonBatchFailed})
			}
		default:
			ph.attempted++
		}
	}
	ph.noCapability = make([]problem.Category, 0, len(noCap))
	for cat := range noCap {
		ph.noCapability = append(ph.noCapability, cat)
	}
	slices.Sort(ph.noCapability)

	return fmt.Sprintf("%d batches run, %d failed, aborted=%t", ph.attempted, ph.report.BatchesFailed, ph.report.Aborted)
}

func (c *Coordinator) validate(ctx context.Context, ph *phase) string {
	byCategory := make(map[problem.Category]validate.Score)
	for _, br := range ph.planRun.Runs {
		if br.Skipped || br.Err != nil {
			continue
		}
		for _, r := range br.Results {
			if r.Success {
				ph.report.ErrorsFixed++
			} else {
				ph.report.ErrorsFailed++
			}
		}
		score, err := c.deps.Validator.Validate(br.Batch.Category, br.Batch, br.Results)
		if err != nil {
			c.logger.Warn(logging.WithBatchID(ctx, br.Batch.ID), "batch could not be validated", zap.Error(err))
			continue
		}
		ph.validated++
		byCategory[br.Batch.Category] = c.deps.Validator.Merge(byCategory[br.Batch.Category], score)
	}

	ph.scores = make([]validate.Score, 0, len(byCategory))
	for _, s := range byCategory {
		ph.scores = append(ph.scores, s)
	}
	slices.SortFunc(ph.scores, func(a, b validate.Score) int { return cmp.Compare(a.Category, b.Category) })

	total, weighted := 0, 0.0
	for _, s := range ph.scores {
		total += s.Total
		weighted += s.Value * float64(s.Total)
		if s.Provisional {
			ph.report.Provisional = append(ph.report.Provisional, s.Category)
			c.logger.Warn(ctx, "category below validation floor, fixes held provisional",
				zap.String("category", string(s.Category)),
				zap.Float64("score", s.Value),
				zap.Float64("floor", c.deps.Validator.Floor()))
		}
	}
	if total > 0 {
		ph.report.ValidationScore = weighted / float64(total)
	}
	ph.report.CategoryScores = ph.scores
	ph.report.Fatal = ph.validated == 0 && ph.attempted > 0
	return fmt.Sprintf("%d batches validated, score %.1f", ph.validated, ph.report.ValidationScore)
}

func (c *Coordinator) updateCompliance(ctx context.Context, ph *phase) string {
	if ph.report.Fatal {
		ph.run.Compliance.UpdatedAt = c.now()
		return "fatal phase, compliance unchanged"
	}
	outcomes := make([]compliance.CategoryOutcome, 0, len(ph.scores))
	for _, s := range ph.scores {
		outcomes = append(outcomes, compliance.CategoryOutcome{
			Category:    s.Category,
			Succeeded:   s.Succeeded,
			Provisional: s.Provisional,
		})
	}
	next, delta := c.deps.Tracker.ApplyPhaseResults(outcomes, len(ph.problems), ph.run.Compliance)
	ph.run.Compliance = next
	ph.report.ComplianceAfter = next.CurrentScore
	ph.report.ComplianceDelta = delta.Total

	c.logger.Debug(ctx, "compliance updated",
		zap.Float64("before", ph.report.ComplianceBefore),
		zap.Float64("after", next.CurrentScore),
		zap.Bool("clamped", delta.Clamped))
	return fmt.Sprintf("compliance %.2f -> %.2f", ph.report.ComplianceBefore, next.CurrentScore)
}

func (c *Coordinator) advanceObjectives(ctx context.Context, ph *phase) string {
	// Provisional fixes are not counted as progress.
	volume := 0
	for _, s := range ph.scores {
		if !s.Provisional {
			volume += s.Succeeded
		}
	}
	applied := ph.run.Objectives.Advance(ph.spec.Name, float64(volume), c.opts.MaxAdvancePerPhase)
	if len(applied) > 0 {
		ph.report.ObjectiveAdvances = applied
	}
	c.logger.Debug(ctx, "objectives advanced", zap.Int("volume", volume), zap.Int("objectives", len(applied)))
	return fmt.Sprintf("%d objectives advanced", len(applied))
}

func (c *Coordinator) buildReport(ctx context.Context, ph *phase) string {
	r := ph.report
	r.ErrorsProcessed = len(ph.problems)
	r.ErrorsDeferred = len(ph.deferred)
	for _, d := range ph.deferred {
		r.DeferredByCategory[d.Problem.Category]++
	}
	r.NextActions = nextActions(actionInput{
		phase:        ph.spec.Name,
		deferred:     ph.deferred,
		scores:       ph.scores,
		floor:        c.deps.Validator.Floor(),
		noCapability: ph.noCapability,
		aborted:      r.Aborted,
		fatal:        r.Fatal,
	})
	r.CompletedAt = c.now()
	r.ExecutionTimeSeconds = r.CompletedAt.Sub(r.StartedAt).Seconds()

	fixedBy := make(map[problem.Category]int)
	failedBy := make(map[problem.Category]int)
	for _, br := range ph.planRun.Runs {
		for _, res := range br.Results {
			if res.Success {
				fixedBy[res.Category]++
			} else {
				failedBy[res.Category]++
			}
		}
	}
	for cat, n := range fixedBy {
		c.deps.Metrics.recordProblems(ctx, string(cat), "fixed", n)
	}
	for cat, n := range failedBy {
		c.deps.Metrics.recordProblems(ctx, string(cat), "failed", n)
	}
	for cat, n := range r.DeferredByCategory {
		c.deps.Metrics.recordProblems(ctx, string(cat), "deferred", n)
	}
	return fmt.Sprintf("%d next actions", len(r.NextActions))
}

// reportProgress sends progress updates to the callback
func (c *Coordinator) reportProgress(progress StageProgress) {
	if c.progressCallback != nil {
		c.progressCallback(progress)
	}
}

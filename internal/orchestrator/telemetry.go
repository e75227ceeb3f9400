package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/remediator/internal/orchestrator"

// Metrics provides OpenTelemetry metrics for phase coordination.
type Metrics struct {
	phasesTotal     metric.Int64Counter
	problemsTotal   metric.Int64Counter
	violationsTotal metric.Int64Counter
	phaseDuration   metric.Float64Histogram
	stageDuration   metric.Float64Histogram
	complianceDelta metric.Float64Histogram
}

// NewMetrics creates the coordinator metrics. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.phasesTotal, err = meter.Int64Counter(
		"remediator.phase.total",
		metric.WithDescription("Phases run, labeled by phase and outcome (ok, fatal, aborted, violation)"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, err
	}

	m.problemsTotal, err = meter.Int64Counter(
		"remediator.problems.total",
		metric.WithDescription("Problems processed, labeled by category and disposition (fixed, failed, deferred)"),
		metric.WithUnit("{problem}"),
	)
	if err != nil {
		return nil, err
	}

	m.violationsTotal, err = meter.Int64Counter(
		"remediator.gate.violations.total",
		metric.WithDescription("Structural violations detected by plan gates"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	m.phaseDuration, err = meter.Float64Histogram(
		"remediator.phase.duration.seconds",
		metric.WithDescription("Wall-clock duration of a phase"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.stageDuration, err = meter.Float64Histogram(
		"remediator.stage.duration.seconds",
		metric.WithDescription("Wall-clock duration of a coordinator stage"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120, 600),
	)
	if err != nil {
		return nil, err
	}

	m.complianceDelta, err = meter.Float64Histogram(
		"remediator.compliance.delta",
		metric.WithDescription("Compliance score gained per phase"),
		metric.WithUnit("{point}"),
		metric.WithExplicitBucketBoundaries(0, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordStage(ctx context.Context, stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", string(stage))))
}

func (m *Metrics) recordViolations(ctx context.Context, phase string, violations []Violation) {
	if m == nil {
		return
	}
	for _, v := range violations {
		m.violationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", phase),
			attribute.String("type", string(v.Type)),
			attribute.String("severity", string(v.Severity)),
		))
	}
}

func (m *Metrics) recordPhase(ctx context.Context, report *PhaseReport, outcome string) {
	if m == nil {
		return
	}
	phase := attribute.String("phase", report.PhaseName)
	m.phasesTotal.Add(ctx, 1, metric.WithAttributes(phase, attribute.String("outcome", outcome)))
	m.phaseDuration.Record(ctx, report.ExecutionTimeSeconds, metric.WithAttributes(phase))
	m.complianceDelta.Record(ctx, report.ComplianceDelta, metric.WithAttributes(phase))
}

func (m *Metrics) recordProblems(ctx context.Context, category, disposition string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.problemsTotal.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("disposition", disposition),
	))
}

func phaseOutcome(report *PhaseReport, err error) string {
	switch {
	case err != nil:
		return "violation"
	case report.Aborted:
		return "aborted"
	case report.Fatal:
		return "fatal"
	default:
		return "ok"
	}
}

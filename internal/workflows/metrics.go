package workflows

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/remediator/internal/workflows"

type activityMetrics struct {
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metrics     activityMetrics
)

// phaseMetrics returns the activity instruments, created on first use from
// the global meter provider. Instruments that fail to build are no-ops.
func phaseMetrics() activityMetrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		metrics.duration, _ = meter.Float64Histogram(
			"remediator.workflows.phase_activity.duration",
			metric.WithDescription("Duration of phase activities, including feed loading"),
			metric.WithUnit("s"),
		)
		metrics.failures, _ = meter.Int64Counter(
			"remediator.workflows.phase_activity.failures",
			metric.WithDescription("Phase activities that returned an error"),
			metric.WithUnit("{activity}"),
		)
	})
	return metrics
}

func recordPhaseActivity(ctx context.Context, phase string, seconds float64, err error) {
	m := phaseMetrics()
	attrs := metric.WithAttributes(attribute.String("phase", phase))
	if m.duration != nil {
		m.duration.Record(ctx, seconds, attrs)
	}
	if err != nil && m.failures != nil {
		m.failures.Add(ctx, 1, attrs)
	}
}

// Package telemetry sets up OpenTelemetry tracing and metrics for remediator.
//
// Phase and stage spans come from the orchestrator; counters and histograms
// are recorded through the global meter. Both are exported over OTLP (grpc
// or http/protobuf) when telemetry is enabled:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sample_rate: 1.0
//	  export_interval: "15s"
//
// Telemetry failures do not crash the application. If an exporter cannot be
// created the instance is marked degraded and falls back to the global
// no-op providers.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "remediation.phase")
//	span.End()
//	tt.AssertSpanExists(t, "remediation.phase")
package telemetry

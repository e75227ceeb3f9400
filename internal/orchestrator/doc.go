// Package orchestrator runs remediation phases through a fixed sequence of
// stages with structural gates.
//
// # Stages
//
// Every phase moves strictly through
//
//	Classify → Prioritize → ExecuteBatches → Validate → UpdateCompliance → AdvanceObjectives → Report
//
// The Coordinator owns no run state. A RunContext carries the compliance
// state, objectives and logger from one phase into the next; problems are
// re-derived from the detector feed every phase.
//
// # Gates
//
// Gates run after Prioritize and inspect the plan before anything is
// applied. A gate violation of error severity is the only hard error a
// phase can return: it means the scheduler produced a plan that breaks a
// structural rule (mixed category batch, HIGH risk admitted, oversize batch,
// dependency conflict inside a wave, a problem scheduled twice or lost).
//
// Everything else degrades into the report:
//   - a failing fix is a FixResult with Success=false
//   - a batch-wide failure defers the whole batch
//   - a category scoring below the validation floor is provisional
//   - a phase where no batch could be validated is Fatal with zero delta
//   - an abort between batches keeps applied fixes and marks the report Aborted
//
// # Usage
//
//	coord, err := orchestrator.NewCoordinator(orchestrator.Deps{
//		Classifier: problem.NewClassifier(table),
//		Engine:     prioritize.NewEngine(table),
//		Executor:   executor.New(registry, opts, logger),
//		Validator:  validator,
//		Tracker:    tracker,
//		Logger:     logger,
//	}, orchestrator.Options{MaxBatchSize: 50, MaxAdvancePerPhase: 25})
//
//	run, err := orchestrator.NewRunContext("run-1", state, objectives, logger)
//	report, err := coord.RunPhase(ctx, run, orchestrator.DefaultPhases()[0], feed)
//
// Runner wraps the Coordinator with persistence and lifecycle events for
// the CLI, the HTTP API and the workflow worker.
package orchestrator

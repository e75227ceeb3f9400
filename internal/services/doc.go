// Package services wires remediator's components from configuration.
//
// Build creates the category table, capability registry, executor,
// validator, compliance tracker, coordinator, run store, event publisher,
// redactor and telemetry, and hands back a Services value whose accessors
// the CLI, HTTP server and Temporal worker share. Close releases them in
// reverse order.
package services

package http

import (
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/store"
	"github.com/fyrsmithlabs/remediator/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// RunPhaseRequest is the request body for POST /api/v1/runs/:id/phases.
type RunPhaseRequest struct {
	Phase        string               `json:"phase"`
	RiskCeiling  string               `json:"risk_ceiling,omitempty"`
	MaxBatchSize int                  `json:"max_batch_size,omitempty"`
	Problems     []problem.RawProblem `json:"problems"`
}

// RunStatusResponse is the response body for GET /api/v1/runs/:id.
type RunStatusResponse struct {
	Run     *orchestrator.RunState      `json:"run"`
	History []*orchestrator.PhaseReport `json:"history"`
}

// RunListResponse is the response body for GET /api/v1/runs.
type RunListResponse struct {
	Runs []store.RunSummary `json:"runs"`
}

// ViolationResponse is returned with 422 when a gate blocks a phase.
type ViolationResponse struct {
	Error      string                   `json:"error"`
	Phase      string                   `json:"phase"`
	Violations []orchestrator.Violation `json:"violations"`
}

// RedactRequest is the request body for POST /api/v1/redact.
type RedactRequest struct {
	Content string `json:"content"`
}

// RedactResponse is the response body for POST /api/v1/redact.
type RedactResponse struct {
	Content string `json:"content"`
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/store"
	"github.com/fyrsmithlabs/remediator/internal/telemetry"
)

// MockRunner is a mock implementation of PhaseRunner
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunPhase(ctx context.Context, runID string, spec orchestrator.PhaseSpec, feed []problem.RawProblem) (*orchestrator.PhaseReport, error) {
	args := m.Called(ctx, runID, spec, feed)
	report, _ := args.Get(0).(*orchestrator.PhaseReport)
	return report, args.Error(1)
}

func (m *MockRunner) Status(ctx context.Context, runID string) (*orchestrator.RunState, []*orchestrator.PhaseReport, error) {
	args := m.Called(ctx, runID)
	state, _ := args.Get(0).(*orchestrator.RunState)
	history, _ := args.Get(1).([]*orchestrator.PhaseReport)
	return state, history, args.Error(2)
}

type listerFunc func(ctx context.Context, limit int) ([]store.RunSummary, error)

func (f listerFunc) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	return f(ctx, limit)
}

type fakeRedactor struct{}

func (fakeRedactor) Redact(s string) string {
	return strings.ReplaceAll(s, "hunter2", "[REDACTED:generic:hunt]")
}

func newTestServer(t *testing.T, deps Deps) (*Server, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	deps.Logger = logger.Logger
	s, err := NewServer(deps, &Config{Host: "127.0.0.1", Port: 0, Version: "1.0.0", RiskCeiling: problem.RiskMedium})
	require.NoError(t, err)
	return s, logger
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("requires runner", func(t *testing.T) {
		_, err := NewServer(Deps{Logger: logging.Nop()}, nil)
		assert.ErrorContains(t, err, "runner cannot be nil")
	})
	t.Run("requires logger", func(t *testing.T) {
		_, err := NewServer(Deps{Runner: new(MockRunner)}, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(Deps{Runner: new(MockRunner), Logger: logging.Nop()}, nil)
		require.NoError(t, err)
		assert.Equal(t, 9191, s.config.Port)
		assert.Equal(t, problem.RiskMedium, s.config.RiskCeiling)
	})
}

func TestHealth(t *testing.T) {
	s, logger := newTestServer(t, Deps{Runner: new(MockRunner), Telemetry: telemetry.NewTestTelemetry().Telemetry})

	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Healthy)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	logger.AssertField(t, "http request", "uri", "/health")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{Runner: new(MockRunner)})
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunStatus(t *testing.T) {
	runner := new(MockRunner)
	state := &orchestrator.RunState{RunID: "run-1", Phases: []string{"stabilize"}}
	history := []*orchestrator.PhaseReport{{RunID: "run-1", PhaseName: "stabilize", ErrorsFixed: 3}}
	runner.On("Status", mock.Anything, "run-1").Return(state, history, nil)
	runner.On("Status", mock.Anything, "ghost").Return(nil, nil, orchestrator.ErrRunNotFound)
	runner.On("Status", mock.Anything, "broken").Return(nil, nil, errors.New("disk on fire"))
	s, logger := newTestServer(t, Deps{Runner: runner})

	rec := do(t, s, http.MethodGet, "/api/v1/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.Run.RunID)
	require.Len(t, resp.History, 1)
	assert.Equal(t, 3, resp.History[0].ErrorsFixed)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/runs/ghost", nil).Code)

	rec = do(t, s, http.MethodGet, "/api/v1/runs/broken", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire", "internal errors are not leaked")
	logger.AssertField(t, "run status failed", "error", "disk on fire")
}

func TestRunPhase(t *testing.T) {
	feed := []problem.RawProblem{{Category: "LINT_FORMATTING", Message: "gofmt", Path: "a.go", Line: 1}}
	report := &orchestrator.PhaseReport{RunID: "run-1", PhaseName: "stabilize", ErrorsProcessed: 1, ErrorsFixed: 1, ValidationScore: 100}

	tests := []struct {
		name       string
		body       interface{}
		setup      func(*MockRunner)
		wantStatus int
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name: "known phase",
			body: RunPhaseRequest{Phase: "stabilize", Problems: feed},
			setup: func(m *MockRunner) {
				m.On("RunPhase", mock.Anything, "run-1",
					orchestrator.PhaseSpec{Name: "stabilize", RiskCeiling: problem.RiskLow}, feed).Return(report, nil)
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var got orchestrator.PhaseReport
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, 1, got.ErrorsFixed)
			},
		},
		{
			name: "custom phase with overrides",
			body: RunPhaseRequest{Phase: "hotfix", RiskCeiling: "low", MaxBatchSize: 5, Problems: feed},
			setup: func(m *MockRunner) {
				m.On("RunPhase", mock.Anything, "run-1",
					orchestrator.PhaseSpec{Name: "hotfix", RiskCeiling: problem.RiskLow, MaxBatchSize: 5}, feed).Return(report, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing phase",
			body:       RunPhaseRequest{Problems: feed},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad risk ceiling",
			body:       RunPhaseRequest{Phase: "stabilize", RiskCeiling: "EXTREME"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative batch size",
			body:       RunPhaseRequest{Phase: "stabilize", MaxBatchSize: -1},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "structural violation",
			body: RunPhaseRequest{Phase: "stabilize", Problems: feed},
			setup: func(m *MockRunner) {
				m.On("RunPhase", mock.Anything, "run-1", mock.Anything, mock.Anything).Return(nil, &orchestrator.ViolationError{
					Phase: "stabilize",
					Violations: []orchestrator.Violation{{
						Type: orchestrator.ViolationMixedCategory, Gate: "batch-shape", BatchID: "lint-01",
						Description: "batch mixes categories", Severity: orchestrator.SeverityCritical,
						DetectedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
					}},
				})
			},
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var got ViolationResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "stabilize", got.Phase)
				require.Len(t, got.Violations, 1)
				assert.Equal(t, orchestrator.ViolationMixedCategory, got.Violations[0].Type)
			},
		},
		{
			name: "runner failure",
			body: RunPhaseRequest{Phase: "stabilize", Problems: feed},
			setup: func(m *MockRunner) {
				m.On("RunPhase", mock.Anything, "run-1", mock.Anything, mock.Anything).Return(nil, errors.New("saving run state: locked"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockRunner)
			if tt.setup != nil {
				tt.setup(runner)
			}
			s, _ := newTestServer(t, Deps{Runner: runner})

			rec := do(t, s, http.MethodPost, "/api/v1/runs/run-1/phases", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec)
			}
			runner.AssertExpectations(t)
			if tt.setup == nil {
				runner.AssertNotCalled(t, "RunPhase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	var gotLimit int
	lister := listerFunc(func(_ context.Context, limit int) ([]store.RunSummary, error) {
		gotLimit = limit
		return []store.RunSummary{{RunID: "run-2"}, {RunID: "run-1"}}, nil
	})
	s, _ := newTestServer(t, Deps{Runner: new(MockRunner), Runs: lister})

	rec := do(t, s, http.MethodGet, "/api/v1/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RunListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 2)
	assert.Equal(t, 2, gotLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/runs?limit=0", nil).Code)

	noLister, _ := newTestServer(t, Deps{Runner: new(MockRunner)})
	assert.Equal(t, http.StatusNotImplemented, do(t, noLister, http.MethodGet, "/api/v1/runs", nil).Code)
}

func TestRedact(t *testing.T) {
	s, _ := newTestServer(t, Deps{Runner: new(MockRunner), Redactor: fakeRedactor{}})

	rec := do(t, s, http.MethodPost, "/api/v1/redact", RedactRequest{Content: "password=hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp RedactResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "password=[REDACTED:generic:hunt]", resp.Content)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/api/v1/redact", RedactRequest{}).Code)

	disabled, _ := newTestServer(t, Deps{Runner: new(MockRunner)})
	assert.Equal(t, http.StatusNotImplemented, do(t, disabled, http.MethodPost, "/api/v1/redact", RedactRequest{Content: "x"}).Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, Deps{Runner: new(MockRunner)})

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.ErrorIs(t, <-errc, http.ErrServerClosed)
}

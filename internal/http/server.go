// Package http provides the remediator HTTP API.
//
// Routes:
//
//	GET  /health                    liveness and telemetry health
//	GET  /metrics                   Prometheus metrics
//	GET  /api/v1/runs               recently updated runs
//	GET  /api/v1/runs/:id           run state and phase history
//	POST /api/v1/runs/:id/phases    run one phase against a posted feed
//	POST /api/v1/redact             scrub secrets from text
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/store"
	"github.com/fyrsmithlabs/remediator/internal/telemetry"
)

// maxBodyBytes bounds posted feeds.
const maxBodyBytes = "32M"

// PhaseRunner runs and reports phases.
type PhaseRunner interface {
	RunPhase(ctx context.Context, runID string, spec orchestrator.PhaseSpec, feed []problem.RawProblem) (*orchestrator.PhaseReport, error)
	Status(ctx context.Context, runID string) (*orchestrator.RunState, []*orchestrator.PhaseReport, error)
}

// RunLister lists runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Redactor scrubs secrets from text.
type Redactor interface {
	Redact(content string) string
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	Version     string
	RiskCeiling problem.RiskLevel // used when a request names an unknown phase
}

// Deps are the collaborators behind the routes. Runner is required.
type Deps struct {
	Runner    PhaseRunner
	Runs      RunLister
	Redactor  Redactor
	Telemetry *telemetry.Telemetry
	Logger    *logging.Logger
}

// Server provides HTTP endpoints for remediator.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config *Config
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, cfg *Config) (*Server, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191, RiskCeiling: problem.RiskMedium}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	logger := deps.Logger.Named("http")
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{echo: e, deps: deps, logger: logger, config: cfg}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleRunStatus)
	v1.POST("/runs/:id/phases", s.handleRunPhase)
	v1.POST("/redact", s.handleRedact)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: s.config.Version}
	if s.deps.Telemetry != nil {
		h := s.deps.Telemetry.Health()
		resp.Telemetry = &h
		if h.Degraded {
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.deps.Runs == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "run listing is not available")
	}
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return s.internalError(c, "list runs failed", err)
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	return c.JSON(http.StatusOK, RunListResponse{Runs: runs})
}

func (s *Server) handleRunStatus(c echo.Context) error {
	runID := c.Param("id")
	state, history, err := s.deps.Runner.Status(c.Request().Context(), runID)
	if errors.Is(err, orchestrator.ErrRunNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return s.internalError(c, "run status failed", err)
	}
	if history == nil {
		history = []*orchestrator.PhaseReport{}
	}
	return c.JSON(http.StatusOK, RunStatusResponse{Run: state, History: history})
}

func (s *Server) handleRunPhase(c echo.Context) error {
	runID := strings.TrimSpace(c.Param("id"))
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run id is required")
	}

	var req RunPhaseRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid phase request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Phase) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phase field is required")
	}

	spec := orchestrator.PhaseByName(req.Phase, s.config.RiskCeiling)
	if req.RiskCeiling != "" {
		ceiling, err := problem.ParseRiskLevel(req.RiskCeiling)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		spec.RiskCeiling = ceiling
	}
	if req.MaxBatchSize < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_batch_size must not be negative")
	}
	if req.MaxBatchSize > 0 {
		spec.MaxBatchSize = req.MaxBatchSize
	}

	ctx := logging.WithRunID(c.Request().Context(), runID)
	report, err := s.deps.Runner.RunPhase(ctx, runID, spec, req.Problems)
	var violation *orchestrator.ViolationError
	switch {
	case errors.As(err, &violation):
		return c.JSON(http.StatusUnprocessableEntity, ViolationResponse{
			Error:      violation.Error(),
			Phase:      violation.Phase,
			Violations: violation.Violations,
		})
	case errors.Is(err, orchestrator.ErrEmptyPhase):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		// The client went away; applied fixes were still persisted.
		return echo.NewHTTPError(http.StatusServiceUnavailable, "phase interrupted")
	case err != nil:
		return s.internalError(c, "phase failed", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleRedact(c echo.Context) error {
	if s.deps.Redactor == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "redaction is disabled")
	}
	var req RedactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	return c.JSON(http.StatusOK, RedactResponse{Content: s.deps.Redactor.Redact(req.Content)})
}

func (s *Server) internalError(c echo.Context, msg string, err error) error {
	s.logger.Error(c.Request().Context(), msg, zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

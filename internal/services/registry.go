package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/capability"
	"github.com/fyrsmithlabs/remediator/internal/compliance"
	"github.com/fyrsmithlabs/remediator/internal/config"
	"github.com/fyrsmithlabs/remediator/internal/events"
	"github.com/fyrsmithlabs/remediator/internal/executor"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/prioritize"
	"github.com/fyrsmithlabs/remediator/internal/problem"
	"github.com/fyrsmithlabs/remediator/internal/redact"
	"github.com/fyrsmithlabs/remediator/internal/store"
	"github.com/fyrsmithlabs/remediator/internal/telemetry"
	"github.com/fyrsmithlabs/remediator/internal/validate"
)

// Options adjust Build.
type Options struct {
	// Logger overrides the logger built from cfg.Logging.
	Logger *logging.Logger

	// Capabilities are registered before the configured commands; a
	// configured command for the same category is an error.
	Capabilities map[problem.Category]executor.FixCapability

	// TelemetryOptions are passed to telemetry.New.
	TelemetryOptions []telemetry.Option
}

// Services holds the wired components.
type Services struct {
	config      *config.Config
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	table       *problem.Table
	registry    *executor.Registry
	coordinator *orchestrator.Coordinator
	store       *store.Store
	events      *events.Publisher
	redactor    *redact.Redactor
	runner      *orchestrator.Runner
	riskCeiling problem.RiskLevel
}

// Build wires every component from cfg. On error, whatever was opened is
// closed again.
func Build(ctx context.Context, cfg *config.Config, opts Options) (s *Services, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	s = &Services{config: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
			s = nil
		}
	}()

	s.riskCeiling, err = problem.ParseRiskLevel(cfg.Remediation.RiskCeiling)
	if err != nil {
		return s, err
	}

	s.telemetry, err = telemetry.New(ctx, cfg.Telemetry, opts.TelemetryOptions...)
	if err != nil {
		return s, err
	}

	s.logger = opts.Logger
	if s.logger == nil {
		var provider log.LoggerProvider
		if cfg.Logging.OTEL {
			provider = s.telemetry.LoggerProvider()
		}
		if s.logger, err = NewLogger(cfg.Logging, provider); err != nil {
			return s, err
		}
	}

	if s.table, err = problem.LoadTable(cfg.Remediation.CategoryTable); err != nil {
		return s, fmt.Errorf("loading category table: %w", err)
	}

	s.registry = executor.NewRegistry()
	for category, capability := range opts.Capabilities {
		if err = s.registry.Register(category, capability); err != nil {
			return s, err
		}
	}
	if err = capability.Register(s.registry, s.table, cfg.Capabilities); err != nil {
		return s, fmt.Errorf("registering capabilities: %w", err)
	}

	if cfg.Redaction.Enabled {
		allowlist, err := redact.LoadAllowlist(cfg.Redaction.AllowlistPath)
		if err != nil {
			return s, err
		}
		if s.redactor, err = redact.New(allowlist); err != nil {
			return s, err
		}
	}

	if err = s.buildCoordinator(); err != nil {
		return s, err
	}

	if s.store, err = store.Open(cfg.Store.Path, store.Options{CacheSize: cfg.Store.CacheSize}); err != nil {
		return s, fmt.Errorf("opening store: %w", err)
	}

	var publisher orchestrator.EventPublisher
	if cfg.Events.Enabled {
		if s.events, err = events.Connect(cfg.Events); err != nil {
			return s, err
		}
		publisher = s.events
	}

	s.runner = orchestrator.NewRunner(s.coordinator, s.store, publisher, orchestrator.RunnerOptions{
		InitialScore: cfg.Remediation.InitialComplianceScore,
		TargetScore:  cfg.Remediation.TargetComplianceScore,
	}, s.logger)

	s.logger.Info(ctx, "services ready",
		zap.Strings("capabilities", categoryNames(s.registry.Categories())),
		zap.String("store", cfg.Store.Path),
		zap.Bool("events", cfg.Events.Enabled),
		zap.Bool("redaction", s.redactor != nil),
		zap.Bool("telemetry", s.telemetry.IsEnabled()),
	)
	return s, nil
}

func (s *Services) buildCoordinator() error {
	r := s.config.Remediation
	validator, err := validate.New(s.table, r.ValidationFloor)
	if err != nil {
		return err
	}
	tracker, err := compliance.NewTracker(s.table, r.PhaseWeight)
	if err != nil {
		return err
	}
	metrics, err := orchestrator.NewMetrics(s.telemetry.Meter(orchestrator.InstrumentationName))
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	deps := orchestrator.Deps{
		Classifier: problem.NewClassifier(s.table),
		Planner:    prioritize.NewEngine(s.table),
		Executor: executor.New(s.registry, executor.Options{
			FixTimeout:     r.FixTimeout.Duration(),
			FixConcurrency: r.FixConcurrency,
			WorkerLimit:    r.WorkerLimit,
			FixRate:        r.FixRate,
		}, s.logger),
		Validator: validator,
		Tracker:   tracker,
		Logger:    s.logger,
		Tracer:    s.telemetry.Tracer(orchestrator.InstrumentationName),
		Metrics:   metrics,
	}
	if s.redactor != nil {
		deps.Redactor = s.redactor
	}

	s.coordinator, err = orchestrator.NewCoordinator(deps, orchestrator.Options{
		MaxBatchSize:       r.MaxBatchSize,
		MaxAdvancePerPhase: r.MaxAdvancePerPhase,
	})
	return err
}

// Close releases the publisher, store and telemetry and flushes the logger.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.events != nil {
		errs = append(errs, s.events.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return errors.Join(errs...)
}

func (s *Services) Config() *config.Config                 { return s.config }
func (s *Services) Logger() *logging.Logger                { return s.logger }
func (s *Services) Telemetry() *telemetry.Telemetry        { return s.telemetry }
func (s *Services) Table() *problem.Table                  { return s.table }
func (s *Services) Registry() *executor.Registry           { return s.registry }
func (s *Services) Coordinator() *orchestrator.Coordinator { return s.coordinator }
func (s *Services) Store() *store.Store                    { return s.store }
func (s *Services) Events() *events.Publisher              { return s.events }
func (s *Services) Redactor() *redact.Redactor             { return s.redactor }
func (s *Services) Runner() *orchestrator.Runner           { return s.runner }

// RiskCeiling is the configured ceiling for phases outside the default plan.
func (s *Services) RiskCeiling() problem.RiskLevel { return s.riskCeiling }

// NewLogger builds a logger from the user-facing logging settings.
func NewLogger(cfg config.LoggingConfig, provider log.LoggerProvider) (*logging.Logger, error) {
	lc := logging.NewDefaultConfig()
	if cfg.Level != "" {
		level, err := logging.LevelFromString(cfg.Level)
		if err != nil {
			return nil, err
		}
		lc.Level = level
	}
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.Output.OTEL = cfg.OTEL && provider != nil
	return logging.NewLogger(lc, provider)
}

func categoryNames(cs []problem.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

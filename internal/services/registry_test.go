package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/remediator/internal/config"
	"github.com/fyrsmithlabs/remediator/internal/executor"
	"github.com/fyrsmithlabs/remediator/internal/logging"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
	"github.com/fyrsmithlabs/remediator/internal/problem"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "remediator.db")
	cfg.Remediation.InitialComplianceScore = 80
	return cfg
}

func fixAll() executor.FixCapability {
	return executor.FixFunc(func(_ context.Context, p problem.Problem) (executor.Outcome, error) {
		return executor.Outcome{Success: true, Action: "formatted", ResourcesModified: []string{p.Location.Path}}, nil
	})
}

func lintFeed(n int) []problem.RawProblem {
	feed := make([]problem.RawProblem, n)
	for i := range feed {
		feed[i] = problem.RawProblem{Category: "LINT_FORMATTING", Message: "needs gofmt", Path: "pkg/a.go", Line: i + 1}
	}
	return feed
}

func TestBuild_RunsAPhaseEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger()

	s, err := Build(ctx, testConfig(t), Options{
		Logger:       logger.Logger,
		Capabilities: map[problem.Category]executor.FixCapability{problem.CategoryLint: fixAll()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	assert.NotNil(t, s.Redactor(), "redaction is on by default")
	assert.Nil(t, s.Events())
	assert.Equal(t, problem.RiskMedium, s.RiskCeiling())
	assert.Equal(t, []problem.Category{problem.CategoryLint}, s.Registry().Categories())
	logger.AssertLogged(t, zapcore.InfoLevel, "services ready")

	report, err := s.Runner().RunPhase(ctx, "run-1", orchestrator.DefaultPhases()[0], lintFeed(3))
	require.NoError(t, err)
	assert.Equal(t, 3, report.ErrorsFixed)
	assert.Equal(t, 80.0, report.ComplianceBefore)
	assert.Greater(t, report.ComplianceAfter, 80.0)

	runs, err := s.Store().ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
}

func TestBuild_ConfiguredCommandCapability(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capabilities = map[string]config.CapabilityConfig{
		"SYNTAX_ERROR": {Command: []string{"/bin/sh", "-c", "exit 0"}, Timeout: config.Duration(5 * time.Second)},
	}

	s, err := Build(context.Background(), cfg, Options{Logger: logging.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	_, ok := s.Registry().Lookup(problem.CategorySyntax)
	assert.True(t, ok)
}

func TestBuild_PublishesEvents(t *testing.T) {
	server, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go server.Start()
	require.True(t, server.ReadyForConnections(5*time.Second))
	t.Cleanup(server.Shutdown)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	msgs := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("remediator.runs.run-ev.phase.>", msgs)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, nc.Flush())

	cfg := testConfig(t)
	cfg.Events.Enabled = true
	cfg.Events.URL = server.ClientURL()
	cfg.Redaction.Enabled = false

	s, err := Build(context.Background(), cfg, Options{
		Logger:       logging.Nop(),
		Capabilities: map[problem.Category]executor.FixCapability{problem.CategoryLint: fixAll()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	require.NotNil(t, s.Events())
	assert.Nil(t, s.Redactor())

	_, err = s.Runner().RunPhase(context.Background(), "run-ev", orchestrator.DefaultPhases()[0], lintFeed(1))
	require.NoError(t, err)

	var subjects []string
	for len(subjects) < 2 {
		select {
		case m := <-msgs:
			subjects = append(subjects, m.Subject)
			var payload map[string]interface{}
			assert.NoError(t, json.Unmarshal(m.Data, &payload))
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for events, got %v", subjects)
		}
	}
	assert.Equal(t, []string{
		"remediator.runs.run-ev.phase.started",
		"remediator.runs.run-ev.phase.completed",
	}, subjects)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		opts   Options
	}{
		{
			name:   "bad risk ceiling",
			mutate: func(c *config.Config) { c.Remediation.RiskCeiling = "EXTREME" },
		},
		{
			name: "malformed category table",
			mutate: func(c *config.Config) {
				path := filepath.Join(filepath.Dir(c.Store.Path), "categories.toml")
				_ = os.WriteFile(path, []byte("[categories\nbroken"), 0o600)
				c.Remediation.CategoryTable = path
			},
		},
		{
			name: "unknown capability category",
			mutate: func(c *config.Config) {
				c.Capabilities = map[string]config.CapabilityConfig{"NOT_A_CATEGORY": {Command: []string{"true"}}}
			},
		},
		{
			name: "duplicate capability",
			mutate: func(c *config.Config) {
				c.Capabilities = map[string]config.CapabilityConfig{"LINT_FORMATTING": {Command: []string{"true"}}}
			},
			opts: Options{Capabilities: map[problem.Category]executor.FixCapability{problem.CategoryLint: fixAll()}},
		},
		{
			name:   "store path is a directory",
			mutate: func(c *config.Config) { c.Store.Path = filepath.Dir(c.Store.Path) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Redaction.Enabled = false
			tt.mutate(cfg)
			opts := tt.opts
			opts.Logger = logging.Nop()
			s, err := Build(context.Background(), cfg, opts)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}

	_, err := Build(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "console"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(config.LoggingConfig{Level: "loud"}, nil)
	assert.Error(t, err)
}

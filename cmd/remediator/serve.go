package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remediator/internal/config"
	httpserver "github.com/fyrsmithlabs/remediator/internal/http"
	"github.com/fyrsmithlabs/remediator/internal/workflows"
)

var (
	serveHost string
	servePort int
)

// serveCmd starts the HTTP API and, when enabled, the Temporal worker
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API (and the Temporal worker when enabled)",
	Long: `Serve the remediation HTTP API.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/runs
  GET  /api/v1/runs/:id
  POST /api/v1/runs/:id/phases
  POST /api/v1/redact

With temporal.enabled the same process also runs a Temporal worker for the
remediation workflow started by "remediator start".

Examples:
  remediator serve
  remediator serve --port 8080
  REMEDIATOR_TEMPORAL_ENABLED=true remediator serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "localhost", "listen host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default: server.http_port from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc, closeFn, err := openServices(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	cfg := svc.Config()
	logger := svc.Logger()
	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}

	var redactor httpserver.Redactor
	if r := svc.Redactor(); r != nil {
		redactor = r
	}
	srv, err := httpserver.NewServer(httpserver.Deps{
		Runner:    svc.Runner(),
		Runs:      svc.Store(),
		Redactor:  redactor,
		Telemetry: svc.Telemetry(),
		Logger:    logger,
	}, &httpserver.Config{
		Host:        serveHost,
		Port:        port,
		Version:     version,
		RiskCeiling: svc.RiskCeiling(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.Temporal.Enabled {
		c, err := dialTemporal(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		w := workflows.NewWorker(c, cfg.Temporal.TaskQueue, &workflows.Activities{
			Runner: svc.Runner(),
			Logger: logger,
		})
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting temporal worker: %w", err)
		}
		defer w.Stop()
		logger.Info(ctx, "temporal worker started",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

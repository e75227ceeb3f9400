// Package events publishes phase lifecycle events to NATS.
//
// Events are published to subjects:
//   - {prefix}.runs.{run_id}.phase.started
//   - {prefix}.runs.{run_id}.phase.completed
//   - {prefix}.runs.{run_id}.phase.failed
//
// Subscribers can follow one run with {prefix}.runs.{run_id}.> or every run
// with {prefix}.runs.*.phase.*.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/remediator/internal/config"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

// EventType is the last subject token of an event.
type EventType string

const (
	EventPhaseStarted   EventType = "started"
	EventPhaseCompleted EventType = "completed"
	EventPhaseFailed    EventType = "failed"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "remediator"

var ErrNilConn = errors.New("nats connection is nil")

// Event is the JSON payload of every message.
type Event struct {
	Type      EventType                 `json:"type"`
	RunID     string                    `json:"run_id"`
	Phase     string                    `json:"phase"`
	Spec      *orchestrator.PhaseSpec   `json:"spec,omitempty"`
	Report    *orchestrator.PhaseReport `json:"report,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Publisher implements orchestrator.EventPublisher on a NATS connection.
type Publisher struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
	owned   bool
	now     func() time.Time
}

var _ orchestrator.EventPublisher = (*Publisher)(nil)

// New wraps an existing connection. timeout bounds the flush after each
// publish; zero skips the flush.
func New(nc *nats.Conn, prefix string, timeout time.Duration) (*Publisher, error) {
	if nc == nil {
		return nil, ErrNilConn
	}
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{nc: nc, prefix: prefix, timeout: timeout, now: time.Now}, nil
}

// Connect dials the configured server and returns a publisher that owns the
// connection.
func Connect(cfg config.EventsConfig) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("remediator"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1 * time.Second),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	p, err := New(nc, cfg.SubjectPrefix, cfg.Timeout.Duration())
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// Subject returns the subject for an event of runID.
func (p *Publisher) Subject(runID string, typ EventType) string {
	return fmt.Sprintf("%s.runs.%s.phase.%s", p.prefix, subjectToken(runID), typ)
}

// PhaseStarted publishes a started event.
func (p *Publisher) PhaseStarted(ctx context.Context, runID string, spec orchestrator.PhaseSpec) error {
	return p.publish(ctx, Event{
		Type:  EventPhaseStarted,
		RunID: runID,
		Phase: spec.Name,
		Spec:  &spec,
	})
}

// PhaseCompleted publishes a completed event carrying the report.
func (p *Publisher) PhaseCompleted(ctx context.Context, report *orchestrator.PhaseReport) error {
	if report == nil {
		return errors.New("phase completed: nil report")
	}
	return p.publish(ctx, Event{
		Type:   EventPhaseCompleted,
		RunID:  report.RunID,
		Phase:  report.PhaseName,
		Report: report,
	})
}

// PhaseFailed publishes a failed event.
func (p *Publisher) PhaseFailed(ctx context.Context, runID, phase string, cause error) error {
	ev := Event{Type: EventPhaseFailed, RunID: runID, Phase: phase}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return p.publish(ctx, ev)
}

// Close closes the connection if the publisher opened it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	ev.Timestamp = p.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.nc.Publish(p.Subject(ev.RunID, ev.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	if p.timeout <= 0 {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.nc.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("flush %s event: %w", ev.Type, err)
	}
	return nil
}

// subjectToken makes runID safe as a single subject token.
func subjectToken(runID string) string {
	if runID == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, runID)
}

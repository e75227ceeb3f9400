// Package store persists remediation runs and their phase history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/remediator/internal/objective"
	"github.com/fyrsmithlabs/remediator/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	state_json  TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS phase_reports (
	report_id   TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	phase_name  TEXT NOT NULL,
	report_json TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_phase_reports_run ON phase_reports(run_id, seq);
`

// DefaultCacheSize is used when Options.CacheSize is not positive.
const DefaultCacheSize = 128

// Options configure a Store.
type Options struct {
	CacheSize int
}

// Store implements orchestrator.RunStore on SQLite with an LRU read cache
// for run state.
type Store struct {
	db    *sql.DB
	cache *lru.Cache[string, orchestrator.RunState]
	now   func() time.Time
}

var _ orchestrator.RunStore = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of concurrent phase commits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, orchestrator.RunState](size)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run cache: %w", err)
	}
	return &Store{db: db, cache: cache, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.cache.Purge()
	return s.db.Close()
}

// LoadRun returns the state of runID or orchestrator.ErrRunNotFound.
func (s *Store) LoadRun(ctx context.Context, runID string) (*orchestrator.RunState, error) {
	if st, ok := s.cache.Get(runID); ok {
		return cloneState(st), nil
	}

	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM runs WHERE run_id = ?`, runID,
	).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orchestrator.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	var st orchestrator.RunState
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	s.cache.Add(runID, *cloneState(st))
	return &st, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SaveRun upserts the state of a run.
func (s *Store) SaveRun(ctx context.Context, state *orchestrator.RunState) error {
	if err := s.saveRun(ctx, s.db, state); err != nil {
		if state != nil {
			s.cache.Remove(state.RunID)
		}
		return err
	}
	s.cache.Add(state.RunID, *cloneState(*state))
	return nil
}

// AppendReport appends a phase report to the run's history.
func (s *Store) AppendReport(ctx context.Context, report *orchestrator.PhaseReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendReport(ctx, tx, report); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitPhase appends report and saves state in one transaction, so the
// history never holds a phase whose results are missing from the run state.
func (s *Store) CommitPhase(ctx context.Context, state *orchestrator.RunState, report *orchestrator.PhaseReport) error {
	if state == nil || report == nil {
		return errors.New("commit phase: state and report are required")
	}
	if state.RunID != report.RunID {
		return fmt.Errorf("commit phase: report for run %q does not belong to run %q", report.RunID, state.RunID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendReport(ctx, tx, report); err != nil {
		return err
	}
	if err := s.saveRun(ctx, tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		s.cache.Remove(state.RunID)
		return fmt.Errorf("commit phase %s: %w", report.PhaseName, err)
	}
	s.cache.Add(state.RunID, *cloneState(*state))
	return nil
}

func (s *Store) saveRun(ctx context.Context, db execer, state *orchestrator.RunState) error {
	if state == nil || state.RunID == "" {
		return errors.New("save run: run id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	created := state.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (run_id, state_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET state_json = excluded.state_json, updated_at = excluded.updated_at`,
		state.RunID, string(data), created.UTC().Format(time.RFC3339Nano), updated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", state.RunID, err)
	}
	return nil
}

func (s *Store) appendReport(ctx context.Context, db execer, report *orchestrator.PhaseReport) error {
	if report == nil || report.RunID == "" {
		return errors.New("append report: run id is required")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var seq int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM phase_reports WHERE run_id = ?`, report.RunID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO phase_reports (report_id, run_id, seq, phase_name, report_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), report.RunID, seq+1, report.PhaseName, string(data),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Reports returns the phase history of runID, oldest first.
func (s *Store) Reports(ctx context.Context, runID string) ([]*orchestrator.PhaseReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_json FROM phase_reports WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*orchestrator.PhaseReport
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r orchestrator.PhaseReport
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

// RunSummary is a row of ListRuns.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListRuns returns the most recently updated runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, created_at, updated_at FROM runs ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var created, updated string
		if err := rows.Scan(&sum.RunID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var err error
		if sum.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at of run %s: %w", sum.RunID, err)
		}
		if sum.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("parse updated_at of run %s: %w", sum.RunID, err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// cloneState copies st so cached entries never alias caller slices or maps.
func cloneState(st orchestrator.RunState) *orchestrator.RunState {
	st.Compliance = st.Compliance.Clone()
	st.Phases = slices.Clone(st.Phases)
	if st.Objectives != nil {
		objs := make([]objective.Objective, len(st.Objectives))
		for i, o := range st.Objectives {
			objs[i] = o.Clone()
		}
		st.Objectives = objs
	}
	return &st
}

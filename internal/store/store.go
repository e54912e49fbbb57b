// Package store keeps the run history of processed calls in SQLite. It is
// an operator view only; processing never reads it back.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/jobs"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for calls, transitions and reports.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			run_id TEXT,
			source TEXT,
			state TEXT,
			reason TEXT,
			attempts INTEGER,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS call_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT,
			run_id TEXT,
			from_state TEXT,
			to_state TEXT,
			reason TEXT,
			attempts INTEGER,
			message TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_call ON call_events(call_id, id);`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			call_id TEXT,
			report_json TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_call ON reports(call_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Call is the latest known run of a call id.
type Call struct {
	CallID    string      `json:"call_id"`
	RunID     string      `json:"run_id"`
	Source    jobs.Source `json:"source"`
	State     jobs.State  `json:"state"`
	Reason    jobs.Reason `json:"reason,omitempty"`
	Attempts  int         `json:"attempts"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RecordTransition appends the transition and updates the call row. A
// Pending transition starts a new run for the call.
func (s *Store) RecordTransition(ctx context.Context, t jobs.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO call_events(call_id, run_id, from_state, to_state, reason, attempts, message, created_at) VALUES(?,?,?,?,?,?,?,?)`,
		t.CallID, t.RunID, string(t.From), string(t.To), string(t.Reason), t.Attempts, t.Message, t.At); err != nil {
		return err
	}
	if t.To == jobs.StatePending {
		_, err = tx.ExecContext(ctx, `INSERT INTO calls(call_id, run_id, source, state, reason, attempts, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(call_id) DO UPDATE SET run_id=excluded.run_id, source=excluded.source, state=excluded.state, reason=excluded.reason, attempts=excluded.attempts, created_at=excluded.created_at, updated_at=excluded.updated_at`,
			t.CallID, t.RunID, string(t.Source), string(t.To), string(t.Reason), t.Attempts, t.At, t.At)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE calls SET state=?, reason=CASE WHEN ?='' THEN reason ELSE ? END, attempts=?, updated_at=? WHERE call_id=? AND run_id=?`,
			string(t.To), string(t.Reason), string(t.Reason), t.Attempts, t.At, t.CallID, t.RunID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SaveReport stores the report of one run.
func (s *Store) SaveReport(ctx context.Context, runID string, r *analysis.Report, ts time.Time) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO reports(run_id, call_id, report_json, created_at) VALUES(?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET report_json=excluded.report_json, created_at=excluded.created_at`, runID, r.CallID, string(buf), ts)
	return err
}

// LatestReport returns the newest report for callID, or nil.
func (s *Store) LatestReport(ctx context.Context, callID string) (*analysis.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT report_json FROM reports WHERE call_id=? ORDER BY created_at DESC LIMIT 1`, callID)
	var raw string
	switch err := row.Scan(&raw); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	var r analysis.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", callID, err)
	}
	return &r, nil
}

// GetCall returns the call row, or nil when the call was never seen.
func (s *Store) GetCall(ctx context.Context, callID string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT call_id, run_id, source, state, reason, attempts, created_at, updated_at FROM calls WHERE call_id=?`, callID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, run_id, source, state, reason, attempts, created_at, updated_at FROM calls ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

// Events returns the transitions recorded for callID, oldest first.
func (s *Store) Events(ctx context.Context, callID string, limit int) ([]jobs.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, run_id, from_state, to_state, reason, attempts, message, created_at FROM call_events WHERE call_id=? ORDER BY id ASC LIMIT ?`, callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.Transition
	for rows.Next() {
		var t jobs.Transition
		var from, to, reason, msg sql.NullString
		if err := rows.Scan(&t.CallID, &t.RunID, &from, &to, &reason, &t.Attempts, &msg, &t.At); err != nil {
			return nil, err
		}
		t.From, t.To, t.Reason, t.Message = jobs.State(from.String), jobs.State(to.String), jobs.Reason(reason.String), msg.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*Call, error) {
	var c Call
	var runID, source, state, reason sql.NullString
	var attempts sql.NullInt64
	if err := row.Scan(&c.CallID, &runID, &source, &state, &reason, &attempts, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.RunID = runID.String
	c.Source = jobs.Source(source.String)
	c.State = jobs.State(state.String)
	c.Reason = jobs.Reason(reason.String)
	c.Attempts = int(attempts.Int64)
	return &c, nil
}

// Package store persists regression results and run traces to SQLite.
//
// One row per test run plus its ordered trace events. The trace is the
// scheduler's deterministic event stream; persisting it lets a later run be
// diffed bit-for-bit against an earlier one.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS results (
	run_token  TEXT PRIMARY KEY,
	scenario   TEXT NOT NULL,
	test       TEXT NOT NULL,
	status     TEXT NOT NULL,
	sim_time   INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trace_events (
	run_token TEXT NOT NULL REFERENCES results(run_token),
	seq       INTEGER NOT NULL,
	sim_time  INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	task      TEXT NOT NULL DEFAULT '',
	"trigger" TEXT NOT NULL DEFAULT '',
	signal    TEXT NOT NULL DEFAULT '',
	value     INTEGER NOT NULL DEFAULT 0,
	action    TEXT NOT NULL DEFAULT '',
	status    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_token, seq)
);
`

// Store provides durable storage for regression runs.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Result is one persisted test outcome.
type Result struct {
	RunToken string
	Scenario string
	Test     string
	Status   string
	SimTime  uint64
	Error    string
}

// Open creates or opens a SQLite database at the given path and applies
// pragmas and the schema. Idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteResult inserts one test result. Duplicate run tokens are rejected.
func (s *Store) WriteResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (run_token, scenario, test, status, sim_time, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.RunToken, r.Scenario, r.Test, r.Status, int64(r.SimTime), r.Error)
	if err != nil {
		return fmt.Errorf("write result %s: %w", r.RunToken, err)
	}
	return nil
}

// WriteTrace inserts the full trace for a run in one transaction.
func (s *Store) WriteTrace(ctx context.Context, runToken string, events []sched.TraceEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write trace %s: %w", runToken, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_events
		(run_token, seq, sim_time, kind, task, "trigger", signal, value, action, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write trace %s: %w", runToken, err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx,
			runToken, ev.Seq, int64(ev.Time), ev.Kind, ev.Task,
			ev.Trigger, ev.Signal, ev.Value, ev.Action, ev.Status,
		); err != nil {
			return fmt.Errorf("write trace %s seq %d: %w", runToken, ev.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trace %s: %w", runToken, err)
	}
	return nil
}

// ListResults returns all results, newest insertion last.
func (s *Store) ListResults(ctx context.Context) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, scenario, test, status, sim_time, error
		FROM results ORDER BY created_at, run_token
	`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var simTime int64
		if err := rows.Scan(&r.RunToken, &r.Scenario, &r.Test, &r.Status, &simTime, &r.Error); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.SimTime = uint64(simTime)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// ReadTrace returns a run's trace in sequence order.
func (s *Store) ReadTrace(ctx context.Context, runToken string) ([]sched.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, sim_time, kind, task, "trigger", signal, value, action, status
		FROM trace_events WHERE run_token = ? ORDER BY seq
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("read trace %s: %w", runToken, err)
	}
	defer rows.Close()

	var out []sched.TraceEvent
	for rows.Next() {
		var ev sched.TraceEvent
		var simTime int64
		if err := rows.Scan(&ev.Seq, &simTime, &ev.Kind, &ev.Task, &ev.Trigger, &ev.Signal, &ev.Value, &ev.Action, &ev.Status); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		ev.Time = uint64(simTime)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read trace %s: %w", runToken, err)
	}
	return out, nil
}

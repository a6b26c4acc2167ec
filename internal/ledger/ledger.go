// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger keeps an SQLite audit trail of augmentation runs: the
// frequency table each run planned from and the state of every outbound
// call. Calls are queued before dispatch, so a later run can resume by
// skipping only seeds whose every call completed.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/mesh-augment/internal/frequency"
	"github.com/pdiddy/mesh-augment/pkg/types"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store manages the ledger database.
type Store struct {
	db    *sql.DB
	runID string
}

// Path returns the default ledger location for an output file.
func Path(outputPath string) string {
	return outputPath + ".db"
}

// Open opens or creates the ledger at path and creates the schema if it
// does not exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Calls are recorded from many goroutines; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunID returns the id of the run started by StartRun, or "".
func (s *Store) RunID() string {
	return s.runID
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			data_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			min_examples INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			written INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS label_counts (
			run_id TEXT NOT NULL REFERENCES runs(id),
			label TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS calls (
			run_id TEXT NOT NULL REFERENCES runs(id),
			call_id INTEGER NOT NULL,
			label TEXT NOT NULL,
			seed TEXT NOT NULL,
			n INTEGER NOT NULL,
			state TEXT NOT NULL,
			written INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, call_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_seed ON calls(label, seed)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// StartRun inserts a new run row and makes it the target of subsequent
// SaveCounts and RecordCall calls.
func (s *Store) StartRun(ctx context.Context, cfg types.AugmentConfig) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model, data_path, output_path, min_examples, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, cfg.Model, cfg.DataPath, cfg.OutputPath, cfg.MinExamples, now(), StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	s.runID = id
	return id, nil
}

// SaveCounts stores the frequency table of the current run.
func (s *Store) SaveCounts(ctx context.Context, table frequency.Table) error {
	if s.runID == "" {
		return fmt.Errorf("saving counts: no run started")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO label_counts (run_id, label, count) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, lc := range table {
		if _, err := stmt.ExecContext(ctx, s.runID, lc.Label, lc.Count); err != nil {
			return fmt.Errorf("inserting count for %q: %w", lc.Label, err)
		}
	}
	return tx.Commit()
}

const insertCall = `INSERT OR REPLACE INTO calls (run_id, call_id, label, seed, n, state, written, error, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// QueueCalls stores every call of the current run before any is
// dispatched, in one transaction. A call that never reaches RecordCall
// keeps its queued row.
func (s *Store) QueueCalls(ctx context.Context, calls []types.CallResult) error {
	if s.runID == "" {
		return fmt.Errorf("queueing calls: no run started")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertCall)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, c := range calls {
		if _, err := stmt.ExecContext(ctx, s.runID, c.CallID, c.Label, c.Seed, c.N, c.State, c.Written, nullString(c.Error), ts); err != nil {
			return fmt.Errorf("queueing call %d: %w", c.CallID, err)
		}
	}
	return tx.Commit()
}

// RecordCall stores the terminal state of one call in the current run.
func (s *Store) RecordCall(ctx context.Context, res types.CallResult) error {
	if s.runID == "" {
		return fmt.Errorf("recording call %d: no run started", res.CallID)
	}
	_, err := s.db.ExecContext(ctx, insertCall,
		s.runID, res.CallID, res.Label, res.Seed, res.N, res.State, res.Written, nullString(res.Error), now(),
	)
	if err != nil {
		return fmt.Errorf("recording call %d: %w", res.CallID, err)
	}
	return nil
}

// FinishRun marks the current run finished with status and the number of
// records written.
func (s *Store) FinishRun(ctx context.Context, status string, written int) error {
	if s.runID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, written = ? WHERE id = ?`,
		now(), status, written, s.runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	return nil
}

// SeedKey identifies one augmentation request across runs. Seed is the
// seed record's SeedID.
type SeedKey struct {
	Label string
	Seed  string
}

// CompletedSeeds returns the (label, seed) pairs for which some earlier run
// completed every call. A seed with a queued or failed call in that run is
// not complete.
func (s *Store) CompletedSeeds(ctx context.Context) (map[SeedKey]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT label, seed FROM calls
		 GROUP BY run_id, label, seed
		 HAVING SUM(state <> 'completed_ok') = 0`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying completed seeds: %w", err)
	}
	defer rows.Close()

	done := make(map[SeedKey]bool)
	for rows.Next() {
		var k SeedKey
		if err := rows.Scan(&k.Label, &k.Seed); err != nil {
			return nil, fmt.Errorf("scanning seed: %w", err)
		}
		done[k] = true
	}
	return done, rows.Err()
}

// Calls returns the recorded calls of a run ordered by call id.
func (s *Store) Calls(ctx context.Context, runID string) ([]types.CallResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT call_id, label, seed, n, state, written, COALESCE(error, '')
		 FROM calls WHERE run_id = ? ORDER BY call_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying calls: %w", err)
	}
	defer rows.Close()

	var out []types.CallResult
	for rows.Next() {
		var r types.CallResult
		if err := rows.Scan(&r.CallID, &r.Label, &r.Seed, &r.N, &r.State, &r.Written, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning call: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the label counts stored for a run.
func (s *Store) Counts(ctx context.Context, runID string) (frequency.Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, count FROM label_counts WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying counts: %w", err)
	}
	defer rows.Close()

	counts := make(frequency.Counts)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

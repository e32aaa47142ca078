// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workspace   TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	final_status TEXT
);
CREATE TABLE IF NOT EXISTS transitions (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq    INTEGER NOT NULL,
	status TEXT NOT NULL,
	code   INTEGER NOT NULL,
	at     INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Run summarises one migration run.
type Run struct {
	ID          string
	Workspace   string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	LastStatus  status.Status
	Transitions int
}

// RunStore persists runs and their status transitions.
type RunStore struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// OpenRunStore opens (creating if needed) the ledger at path.
func OpenRunStore(path string) (*RunStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("runstore: create dir: %w", err)
	}
	db, err := openLedger(path, false)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: migrate: %w", err)
	}
	return &RunStore{db: db, path: path, logger: xglog.WithComponent("runstore")}, nil
}

// Path returns the database file location.
func (s *RunStore) Path() string { return s.path }

// Close releases the database.
func (s *RunStore) Close() error { return s.db.Close() }

// BeginRun registers a new run.
func (s *RunStore) BeginRun(ctx context.Context, runID, workspace string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workspace, started_at) VALUES (?, ?, ?)`,
		runID, workspace, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("runstore: begin run %s: %w", runID, err)
	}
	return nil
}

// RecordTransition appends rec to the run's transition list and closes the run
// on a terminal status.
func (s *RunStore) RecordTransition(ctx context.Context, runID string, rec status.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runstore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transitions (run_id, seq, status, code, at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transitions WHERE run_id = ?), ?, ?, ?)`,
		runID, runID, rec.Status.String(), rec.Status.Code(), rec.Timestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("runstore: insert transition: %w", err)
	}

	if isTerminal(rec.Status) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET finished_at = ?, final_status = ? WHERE id = ?`,
			rec.Timestamp.UnixMilli(), rec.Status.String(), runID); err != nil {
			return fmt.Errorf("runstore: close run: %w", err)
		}
	}
	return tx.Commit()
}

func isTerminal(s status.Status) bool {
	switch s {
	case status.MigrationFinished, status.MigrationFailed, status.PreMigrationVerifyFailed:
		return true
	}
	return false
}

// Observer mirrors tracker transitions for runID into the ledger. Write
// failures are logged; the history file stays the source of truth.
func (s *RunStore) Observer(runID string) status.Observer {
	return status.ObserverFunc(func(_ status.Status, rec status.Record) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.RecordTransition(ctx, runID, rec); err != nil {
			s.logger.Warn().Err(err).
				Str(xglog.FieldRunID, runID).
				Str(xglog.FieldStatus, rec.Status.String()).
				Msg("failed to mirror status transition")
		}
	})
}

// Transitions returns the recorded history of a run, oldest first.
func (s *RunStore) Transitions(ctx context.Context, runID string) ([]status.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, at FROM transitions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("runstore: query transitions: %w", err)
	}
	defer rows.Close()

	var out []status.Record
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("runstore: scan transition: %w", err)
		}
		st, err := status.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("runstore: %w", err)
		}
		out = append(out, status.Record{Status: st, Timestamp: time.UnixMilli(at)})
	}
	return out, rows.Err()
}

const runColumns = `
	r.id, r.workspace, r.started_at, COALESCE(r.finished_at, 0),
	COALESCE((SELECT t.status FROM transitions t WHERE t.run_id = r.id ORDER BY t.seq DESC LIMIT 1), 'NOT_START'),
	(SELECT COUNT(*) FROM transitions t WHERE t.run_id = r.id)`

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns a single run.
func (s *RunStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		started, finished int64
		last              string
	)
	if err := sc.Scan(&r.ID, &r.Workspace, &started, &finished, &last, &r.Transitions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("runstore: scan run: %w", err)
	}
	r.StartedAt = time.UnixMilli(started)
	if finished > 0 {
		r.FinishedAt = time.UnixMilli(finished)
	}
	st, err := status.Parse(last)
	if err != nil {
		return Run{}, fmt.Errorf("runstore: %w", err)
	}
	r.LastStatus = st
	return r, nil
}

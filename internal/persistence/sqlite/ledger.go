// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite holds the run ledger: every migration run and each status
// transition it went through, kept across portal restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// IntegrityMode selects the SQLite consistency pragma.
type IntegrityMode string

const (
	// QuickCheck runs PRAGMA quick_check.
	QuickCheck IntegrityMode = "quick"
	// FullCheck runs PRAGMA integrity_check.
	FullCheck IntegrityMode = "full"
)

const (
	writerBusyTimeout = 5 * time.Second
	readerBusyTimeout = 2 * time.Second
)

// openLedger opens the ledger file. The writer handle is a single WAL
// connection so transition inserts stay strictly ordered; the read-only
// handle never creates the file.
func openLedger(path string, readOnly bool) (*sql.DB, error) {
	var dsn strings.Builder
	fmt.Fprintf(&dsn, "file:%s?", path)
	if readOnly {
		fmt.Fprintf(&dsn, "mode=ro&_pragma=busy_timeout(%d)", readerBusyTimeout.Milliseconds())
	} else {
		fmt.Fprintf(&dsn, "_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
			writerBusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	if !readOnly {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: ping %s: %w", path, err)
		}
	}
	return db, nil
}

// VerifyIntegrity runs the consistency pragma of mode against the ledger at
// path and returns what it reported. A healthy ledger yields nil.
func VerifyIntegrity(ctx context.Context, path string, mode IntegrityMode) ([]string, error) {
	db, err := openLedger(path, true)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	pragma := "PRAGMA quick_check"
	if mode == FullCheck {
		pragma = "PRAGMA integrity_check"
	}
	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
	}
	defer rows.Close()

	var problems []string
	seen := 0
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("ledger: scan %s: %w", pragma, err)
		}
		seen++
		if !strings.EqualFold(line, "ok") {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", pragma, err)
	}
	if seen == 0 {
		return []string{pragma + " returned nothing"}, nil
	}
	return problems, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

// Observer is notified of every accepted transition, in order, while the
// tracker lock is held. Observers must not call back into the tracker.
type Observer interface {
	OnTransition(prev Status, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(prev Status, rec Record)

func (f ObserverFunc) OnTransition(prev Status, rec Record) { f(prev, rec) }

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observers = append(t.observers, o) }
}

// Tracker holds the current status and the append-only history of one run.
// Every accepted transition rewrites the whole history file atomically.
// Once MIGRATION_FAILED is recorded all further transitions are ignored.
type Tracker struct {
	mu        sync.Mutex
	path      string
	history   []Record
	now       func() time.Time
	observers []Observer
	logger    zerolog.Logger
}

// NewTracker creates the tracker with a single NOT_START entry and persists it.
// An empty path disables persistence.
func NewTracker(path string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		path:   path,
		now:    time.Now,
		logger: xglog.WithComponent("status"),
	}
	for _, o := range opts {
		o(t)
	}
	t.history = []Record{{Status: NotStart, Timestamp: t.now()}}
	if err := t.persistLocked(); err != nil {
		return nil, err
	}
	metrics.StatusCurrentCode.Set(float64(NotStart.Code()))
	return t, nil
}

// Set records s as the new current status. It returns false when the
// transition was ignored because the run already failed. Persistence errors
// are logged; the in-memory history stays authoritative.
func (t *Tracker) Set(s Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.history[len(t.history)-1]
	if prev.Status == MigrationFailed {
		metrics.StatusRejected.Inc()
		t.logger.Debug().
			Str(xglog.FieldEvent, "status.transition_ignored").
			Str(xglog.FieldStatus, s.String()).
			Msg("migration already failed, ignoring status change")
		return false
	}

	ts := t.now()
	if ts.Before(prev.Timestamp) {
		ts = prev.Timestamp
	}
	rec := Record{Status: s, Timestamp: ts}
	t.history = append(t.history, rec)

	metrics.StatusTransitions.WithLabelValues(s.String()).Inc()
	metrics.StatusCurrentCode.Set(float64(s.Code()))
	t.logger.Info().
		Str(xglog.FieldEvent, "status.transition").
		Str(xglog.FieldOldState, prev.Status.String()).
		Str(xglog.FieldNewState, s.String()).
		Int("code", s.Code()).
		Msgf("Migration status changed to: %s", s.Description())

	if err := t.persistLocked(); err != nil {
		t.logger.Error().Err(err).
			Str(xglog.FieldEvent, "status.persist_failed").
			Str(xglog.FieldPath, t.path).
			Msg("failed to write migration status history")
	}
	for _, o := range t.observers {
		o.OnTransition(prev.Status, rec)
	}
	return true
}

// persistLocked rewrites the history file via a pending file and atomic rename.
func (t *Tracker) persistLocked() error {
	if t.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(t.history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status history: %w", err)
	}

	pending, err := renameio.NewPendingFile(t.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending status file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			t.logger.Debug().Err(err).Msg("cleanup pending status file")
		}
	}()
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write status history: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace status file: %w", err)
	}
	return nil
}

// Current returns the latest status.
func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history[len(t.history)-1].Status
}

// History returns a copy of the full history, oldest first.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// Path returns the history file location.
func (t *Tracker) Path() string { return t.path }

func (t *Tracker) IsNotRunning() bool    { return t.Current().IsNotRunning() }
func (t *Tracker) IsFullMigration() bool { return t.Current().IsFullMigration() }
func (t *Tracker) IsFullDataCheck() bool { return t.Current().IsFullDataCheck() }
func (t *Tracker) IsIncremental() bool   { return t.Current().IsIncremental() }
func (t *Tracker) IsReverse() bool       { return t.Current().IsReverse() }
func (t *Tracker) IsFailed() bool        { return t.Current() == MigrationFailed }

// IsIncrementalStopped reports whether incremental migration was stopped
// deliberately (as opposed to interrupted).
func (t *Tracker) IsIncrementalStopped() bool {
	return t.Current() == IncrementalMigrationFinished
}

// IsReverseStopped reports whether reverse migration was stopped deliberately.
func (t *Tracker) IsReverseStopped() bool {
	return t.Current() == ReverseMigrationFinished
}

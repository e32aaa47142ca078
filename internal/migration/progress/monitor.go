// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package progress aggregates the status files written by the external tools
// of a phase into one progress file per phase.
package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// DefaultInterval is the polling period of the monitor.
const DefaultInterval = time.Second

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("progress monitor already started")

// PhaseSource reports the current migration status.
type PhaseSource interface {
	Current() status.Status
}

// Options configures a Monitor.
type Options struct {
	Phase     PhaseSource
	Tasks     func() []process.Task
	Workspace *workspace.Workspace
	Interval  time.Duration
}

// TaskProgress is the last observed content of one tool's status file.
type TaskProgress struct {
	Name       string          `json:"name"`
	Role       process.Role    `json:"role"`
	StatusFile string          `json:"statusFile"`
	Modified   time.Time       `json:"modified"`
	Progress   json.RawMessage `json:"progress,omitempty"`
	Text       string          `json:"text,omitempty"`
}

// Snapshot is the content of a phase progress file.
type Snapshot struct {
	Phase   status.Phase   `json:"phase"`
	Updated time.Time      `json:"updated"`
	Tasks   []TaskProgress `json:"tasks"`
}

// Monitor follows the current phase and rewrites its progress file whenever
// one of the phase's status files changes. When the phase advances the
// previous phase gets a last read so its file holds the final figures.
type Monitor struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Guarded by readMu; the loop and the final read in Stop share it.
	readMu  sync.Mutex
	last    status.Phase
	seen    map[status.Phase]map[string]process.Task
	entries map[status.Phase]map[string]TaskProgress
}

// New returns an idle monitor.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Monitor{
		opts:    opts,
		logger:  xglog.WithComponent("progress"),
		seen:    make(map[status.Phase]map[string]process.Task),
		entries: make(map[status.Phase]map[string]TaskProgress),
	}
}

// Start launches the polling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	go m.run(loopCtx, m.done)

	m.logger.Info().
		Str(xglog.FieldEvent, "progress.start").
		Dur("interval", m.opts.Interval).
		Msg("progress monitor started")
	return nil
}

// Stop ends the loop after a last read of the latest phase. Safe to call
// more than once and before Start.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info().Str(xglog.FieldEvent, "progress.stop").Msg("progress monitor stopped")
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.finalRead()

	t := time.NewTicker(m.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.Tick() {
				return
			}
		}
	}
}

// Tick performs one observation. It returns true once the run has reached a
// terminal status and monitoring should end.
func (m *Monitor) Tick() bool {
	cur := m.opts.Phase.Current()
	switch cur {
	case status.NotStart, status.MigrationStarting:
		return false
	case status.MigrationFailed, status.MigrationFinished:
		return true
	}

	m.readMu.Lock()
	defer m.readMu.Unlock()

	phase, ok := cur.Phase()
	if !ok {
		// STOPPING and the like keep reporting the latest phase.
		phase = m.last
	}
	if phase == "" {
		return false
	}
	if m.last != "" && m.last != phase {
		m.collectLocked(m.last)
	}
	m.last = phase
	m.collectLocked(phase)
	return false
}

func (m *Monitor) finalRead() {
	m.readMu.Lock()
	defer m.readMu.Unlock()
	if m.last != "" {
		m.collectLocked(m.last)
	}
}

// collectLocked reads the status files of phase and rewrites its progress
// file when any of them changed.
func (m *Monitor) collectLocked(phase status.Phase) {
	seen := m.seen[phase]
	if seen == nil {
		seen = make(map[string]process.Task)
		m.seen[phase] = seen
	}
	if m.opts.Tasks != nil {
		// Finished tasks leave the supervisor; remembering them keeps their
		// last figures in the phase file.
		for _, t := range m.opts.Tasks() {
			if t.Phase() == phase && t.StatusFile() != "" {
				seen[t.Name()] = t
			}
		}
	}
	if len(seen) == 0 {
		return
	}

	entries := m.entries[phase]
	if entries == nil {
		entries = make(map[string]TaskProgress)
		m.entries[phase] = entries
	}
	changed := false
	for name, t := range seen {
		prev, known := entries[name]
		info, err := os.Stat(t.StatusFile())
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				m.logger.Debug().Err(err).Str(xglog.FieldPath, t.StatusFile()).Msg("stat status file")
			}
			if !known {
				entries[name] = TaskProgress{Name: name, Role: t.Role(), StatusFile: t.StatusFile()}
				changed = true
			}
			continue
		}
		if known && info.ModTime().Equal(prev.Modified) {
			continue
		}
		entry, err := readEntry(t, info.ModTime())
		if err != nil {
			m.logger.Warn().Err(err).Str(xglog.FieldProcess, name).Msg("failed to read tool status file")
			continue
		}
		entries[name] = entry
		changed = true
	}
	if !changed {
		return
	}
	if err := m.write(phase, entries); err != nil {
		metrics.ProgressWrites.WithLabelValues(string(phase), "error").Inc()
		m.logger.Warn().Err(err).Str(xglog.FieldEvent, "progress.write_failed").Msg("failed to write phase progress")
		return
	}
	metrics.ProgressWrites.WithLabelValues(string(phase), "ok").Inc()
}

func readEntry(t process.Task, mtime time.Time) (TaskProgress, error) {
	data, err := os.ReadFile(t.StatusFile())
	if err != nil {
		return TaskProgress{}, err
	}
	e := TaskProgress{Name: t.Name(), Role: t.Role(), StatusFile: t.StatusFile(), Modified: mtime}
	data = bytes.TrimSpace(data)
	if json.Valid(data) {
		e.Progress = json.RawMessage(data)
	} else {
		e.Text = string(data)
	}
	return e, nil
}

func (m *Monitor) write(phase status.Phase, entries map[string]TaskProgress) error {
	snap := Snapshot{Phase: phase, Updated: time.Now(), Tasks: make([]TaskProgress, 0, len(entries))}
	for _, e := range entries {
		snap.Tasks = append(snap.Tasks, e)
	}
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", phase, err)
	}
	path := m.opts.Workspace.ProgressPath(string(phase))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("progress: write %s: %w", path, err)
	}
	return nil
}

// Load reads the progress file of phase.
func Load(ws *workspace.Workspace, phase status.Phase) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(ws.ProgressPath(string(phase)))
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("progress: decode %s: %w", phase, err)
	}
	return snap, nil
}

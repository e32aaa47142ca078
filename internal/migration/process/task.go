// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

// TaskSpec extends Spec with the task's place in the pipeline.
type TaskSpec struct {
	Spec
	Role  Role
	Phase status.Phase
	// StatusFile is the absolute path of the progress file, or "".
	StatusFile string
	// FinishMarker is the absolute path of a completion marker, or "".
	FinishMarker string
}

// TaskProcess is a short-lived tool launched for one phase invocation.
type TaskProcess struct {
	*proc
	task TaskSpec

	startMu sync.Mutex
	started bool
	stopped atomic.Bool
}

var _ Task = (*TaskProcess)(nil)

// NewTaskProcess returns an unstarted task handle.
func NewTaskProcess(spec TaskSpec) *TaskProcess {
	return &TaskProcess{
		proc: newProc(spec.Spec, "task-process"),
		task: spec,
	}
}

func (t *TaskProcess) Name() string        { return t.task.Name }
func (t *TaskProcess) Role() Role          { return t.task.Role }
func (t *TaskProcess) Phase() status.Phase { return t.task.Phase }
func (t *TaskProcess) StatusFile() string  { return t.task.StatusFile }

// Start launches the tool once; repeated calls return nil.
func (t *TaskProcess) Start(ctx context.Context) error {
	t.startMu.Lock()
	defer t.startMu.Unlock()
	if t.started {
		return nil
	}
	if err := t.launch(ctx); err != nil {
		return err
	}
	t.started = true
	return nil
}

// Stop terminates the tool. After Stop, CheckStatus no longer reports failure.
func (t *TaskProcess) Stop() {
	t.stopped.Store(true)
	t.terminate()
}

// Stopped reports whether Stop was called.
func (t *TaskProcess) Stopped() bool { return t.stopped.Load() }

func (t *TaskProcess) IsAlive() bool { return t.alive() }

// Finished reports that the task is done: it was stopped deliberately, the
// finish marker exists, or the launched process exited 0 and nothing matching
// its pattern remains.
func (t *TaskProcess) Finished() bool {
	if t.stopped.Load() {
		return true
	}
	if t.task.FinishMarker != "" {
		if _, err := os.Stat(t.task.FinishMarker); err == nil {
			return true
		} else if !errors.Is(err, os.ErrNotExist) {
			t.logger.Debug().Err(err).Str(xglog.FieldPath, t.task.FinishMarker).Msg("stat finish marker")
		}
	}
	exited, err := t.ownExited()
	if !exited || err != nil {
		return false
	}
	return !t.alive()
}

// CheckStatus returns false when the tool died without finishing.
func (t *TaskProcess) CheckStatus() bool {
	if t.stopped.Load() {
		return true
	}
	if t.Finished() {
		return true
	}
	return t.alive()
}

// Wait blocks until the launched process is reaped or ctx is done and returns
// its exit error. Tools that daemonise are not tracked past their launcher.
func (t *TaskProcess) Wait(ctx context.Context) error {
	t.mu.Lock()
	exited := t.exited
	t.mu.Unlock()
	if exited == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-exited:
		return t.exitError()
	}
}

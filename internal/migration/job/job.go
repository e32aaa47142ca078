// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package job defines what a migration run does in each phase and provides a
// configuration-driven implementation that launches external tools.
package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/stoptoken"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

var (
	// ErrPhaseNotConfigured is returned by phase operations on a phase the job does not run.
	ErrPhaseNotConfigured = errors.New("phase not configured")
	// ErrInvalidState is returned when the current status does not allow the operation.
	ErrInvalidState = errors.New("operation not allowed in current status")
	// ErrTaskFailed wraps a tool that exited with an error.
	ErrTaskFailed = errors.New("task failed")
	// ErrPhaseTimeout is returned when a synchronous phase exceeds its deadline.
	ErrPhaseTimeout = errors.New("phase timed out")
)

// Registrar accepts task handles for supervision.
type Registrar interface {
	AddProcess(t process.Task)
}

// Job is driven by the controller. Phase operations are serialised by the
// implementation and return ErrPhaseNotConfigured or ErrInvalidState when
// they are rejected; a stopped token turns them into no-ops.
type Job interface {
	PreMigrationVerify(ctx context.Context) bool
	BeforeTask(ctx context.Context) error
	// StartTask runs the synchronous phases and launches the streaming ones.
	StartTask(ctx context.Context, token *stoptoken.Token, reg Registrar, tracker *status.Tracker) error
	// StopTask stops every process the job launched. Called once per run.
	StopTask()

	StopIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error
	ResumeIncremental(ctx context.Context, tracker *status.Tracker) error
	RestartIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error

	StartReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error
	StopReverse(ctx context.Context, tracker *status.Tracker) error
	ResumeReverse(ctx context.Context, tracker *status.Tracker) error
	RestartReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error

	HasIncremental() bool
	HasReverse() bool
}

// Verifier is the pre-flight verification the job delegates to.
type Verifier interface {
	Verify(ctx context.Context, phases []status.Phase, ws *workspace.Workspace) bool
	VerifyReversePhase(ctx context.Context, ws *workspace.Workspace) bool
}

// step is one unit of StartTask.
type step struct {
	name string
	fn   func(ctx context.Context) error
}

// executor runs steps in order and stops before the next step once the
// token is set.
type executor struct {
	token *stoptoken.Token
	steps []step
}

func (e *executor) add(name string, fn func(ctx context.Context) error) {
	e.steps = append(e.steps, step{name: name, fn: fn})
}

func (e *executor) run(ctx context.Context) error {
	for _, s := range e.steps {
		if e.token.IsStopped() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// untilStopped derives a context that is also cancelled when token is set.
func untilStopped(ctx context.Context, token *stoptoken.Token) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

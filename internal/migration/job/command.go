// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/stoptoken"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// DefaultWaitPoll is how often a synchronous phase re-checks its tasks.
const DefaultWaitPoll = time.Second

// Brokers is the broker cluster lifecycle the job drives.
type Brokers interface {
	Start(ctx context.Context) error
	Stop()
	Len() int
}

// Options configures a CommandJob.
type Options struct {
	Job        config.JobConfig
	Supervisor config.SupervisorConfig
	Workspace  *workspace.Workspace
	Brokers    Brokers
	Verifier   Verifier
	// NewTask defaults to process.NewTaskProcess.
	NewTask  TaskFactory
	WaitPoll time.Duration
}

// CommandJob launches the configured external tools for each phase.
type CommandJob struct {
	opts   Options
	phases []status.Phase
	logger zerolog.Logger

	mu              sync.Mutex
	reg             Registrar
	full            *group
	fullCheck       *group
	incremental     *group
	incrementalChk  *group
	reverse         *group
	reversePrepared bool
}

var _ Job = (*CommandJob)(nil)

// NewCommandJob validates opts and returns a job.
func NewCommandJob(opts Options) (*CommandJob, error) {
	if opts.Workspace == nil {
		return nil, errors.New("job: workspace is required")
	}
	if opts.Verifier == nil {
		return nil, errors.New("job: verifier is required")
	}
	phases, err := status.ParsePhases(opts.Job.Phases)
	if err != nil {
		return nil, fmt.Errorf("job: %w", err)
	}
	if opts.NewTask == nil {
		opts.NewTask = defaultFactory
	}
	if opts.WaitPoll <= 0 {
		opts.WaitPoll = DefaultWaitPoll
	}
	return &CommandJob{
		opts:   opts,
		phases: phases,
		logger: xglog.WithComponent("job"),
	}, nil
}

func (j *CommandJob) has(p status.Phase) bool { return status.HasPhase(j.phases, p) }

func (j *CommandJob) HasIncremental() bool { return j.has(status.PhaseIncremental) }
func (j *CommandJob) HasReverse() bool     { return j.has(status.PhaseReverse) }

func (j *CommandJob) hasIncrementalCheck() bool {
	return j.HasIncremental() && len(j.opts.Job.IncrementalCheck) > 0
}

// Phases returns the configured phases in execution order.
func (j *CommandJob) Phases() []status.Phase {
	return append([]status.Phase(nil), j.phases...)
}

func (j *CommandJob) PreMigrationVerify(ctx context.Context) bool {
	return j.opts.Verifier.Verify(ctx, j.phases, j.opts.Workspace)
}

// BeforeTask prepares the workspace directories the tools write into.
func (j *CommandJob) BeforeTask(_ context.Context) error {
	return j.opts.Workspace.Ensure()
}

func (j *CommandJob) newGroup(specs []config.ProcessSpec, role process.Role, phase status.Phase) *group {
	g := &group{}
	for _, ps := range specs {
		g.tasks = append(g.tasks, j.opts.NewTask(taskSpec(ps, role, phase, j.opts.Workspace, j.opts.Supervisor)))
	}
	return g
}

// StartTask runs full migration and full data check to completion, then
// launches incremental connectors. With only a reverse phase configured the
// reverse connectors are launched directly.
func (j *CommandJob) StartTask(ctx context.Context, token *stoptoken.Token, reg Registrar, tracker *status.Tracker) error {
	j.mu.Lock()
	j.reg = reg
	j.mu.Unlock()

	ex := &executor{token: token}
	if j.has(status.PhaseFullMigration) {
		ex.add("full migration", func(ctx context.Context) error {
			return j.runFullMigration(ctx, token, tracker)
		})
	}
	if j.has(status.PhaseFullDataCheck) {
		// Brokers are supervised from the full data check onwards.
		ex.add("brokers", j.startBrokers)
		ex.add("full data check", func(ctx context.Context) error {
			return j.runFullDataCheck(ctx, token, tracker)
		})
	}
	if j.HasIncremental() {
		ex.add("incremental migration", func(ctx context.Context) error {
			j.mu.Lock()
			defer j.mu.Unlock()
			return j.startIncrementalLocked(ctx, tracker)
		})
	}
	if j.HasReverse() && !j.HasIncremental() && !j.has(status.PhaseFullMigration) && !j.has(status.PhaseFullDataCheck) {
		ex.add("reverse migration", func(ctx context.Context) error {
			j.mu.Lock()
			defer j.mu.Unlock()
			if err := j.prepareReverseLocked(ctx); err != nil {
				return err
			}
			return j.startReverseLocked(ctx, tracker)
		})
	}
	return ex.run(ctx)
}

func (j *CommandJob) runFullMigration(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	tracker.Set(status.StartFullMigration)
	g := j.newGroup(j.opts.Job.FullMigration, process.RoleFullCopy, status.PhaseFullMigration)
	j.mu.Lock()
	j.full = g
	j.mu.Unlock()

	tracker.Set(status.FullMigrationRunning)

	ctx, cancel := j.phaseContext(ctx, token)
	defer cancel()
	for _, t := range g.tasks {
		if token.IsStopped() {
			return nil
		}
		if err := t.Start(ctx); err != nil {
			return j.interpret(ctx, token, fmt.Errorf("%w: %s: %w", ErrTaskFailed, t.Name(), err))
		}
		if err := t.Wait(ctx); err != nil {
			return j.interpret(ctx, token, fmt.Errorf("%w: %s: %w", ErrTaskFailed, t.Name(), err))
		}
		j.logger.Info().
			Str(xglog.FieldEvent, "job.full_copy_done").
			Str(xglog.FieldProcess, t.Name()).
			Msg("full copy tool completed")
	}
	if token.IsStopped() {
		return nil
	}
	tracker.Set(status.FullMigrationFinished)
	return nil
}

func (j *CommandJob) runFullDataCheck(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	tracker.Set(status.StartFullDataCheck)
	g := j.newGroup(j.opts.Job.FullDataCheck, process.RoleValidator, status.PhaseFullDataCheck)
	j.mu.Lock()
	j.fullCheck = g
	reg := j.reg
	j.mu.Unlock()

	tracker.Set(status.FullDataCheckRunning)
	if err := g.start(ctx, reg, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}

	ctx, cancel := j.phaseContext(ctx, token)
	defer cancel()
	tick := time.NewTicker(j.opts.WaitPoll)
	defer tick.Stop()
	for !g.finished() {
		select {
		case <-ctx.Done():
			return j.interpret(ctx, token, ctx.Err())
		case <-tick.C:
		}
	}
	if token.IsStopped() {
		return nil
	}
	tracker.Set(status.FullDataCheckFinished)
	return nil
}

// phaseContext bounds a synchronous phase by PhaseTimeout and the token.
func (j *CommandJob) phaseContext(ctx context.Context, token *stoptoken.Token) (context.Context, context.CancelFunc) {
	if j.opts.Job.PhaseTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, j.opts.Job.PhaseTimeout)
		inner, cancel := untilStopped(ctx, token)
		return inner, func() { cancel(); cancelTimeout() }
	}
	return untilStopped(ctx, token)
}

// interpret maps an interrupted wait: a stop request is not an error, a
// deadline becomes ErrPhaseTimeout.
func (j *CommandJob) interpret(ctx context.Context, token *stoptoken.Token, err error) error {
	if token.IsStopped() {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrPhaseTimeout, err)
	}
	return err
}

func (j *CommandJob) startIncrementalLocked(ctx context.Context, tracker *status.Tracker) error {
	tracker.Set(status.StartIncrementalMigration)
	if err := j.startBrokers(ctx); err != nil {
		return err
	}
	j.incremental = j.newGroup(j.opts.Job.Incremental, process.RoleConnector, status.PhaseIncremental)
	if err := j.incremental.start(ctx, j.reg, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	if j.hasIncrementalCheck() {
		j.incrementalChk = j.newGroup(j.opts.Job.IncrementalCheck, process.RoleValidator, status.PhaseIncremental)
		if err := j.incrementalChk.start(ctx, j.reg, true); err != nil {
			return fmt.Errorf("%w: %w", ErrTaskFailed, err)
		}
	}
	tracker.Set(status.IncrementalMigrationRunning)
	return nil
}

func (j *CommandJob) stopIncrementalLocked() {
	j.incrementalChk.stop()
	j.incremental.stop()
}

func (j *CommandJob) startBrokers(ctx context.Context) error {
	if j.opts.Brokers == nil || j.opts.Brokers.Len() == 0 {
		return nil
	}
	if err := j.opts.Brokers.Start(ctx); err != nil {
		return fmt.Errorf("start brokers: %w", err)
	}
	return nil
}

// prepareReverseLocked makes sure the shared brokers are up before reverse
// connectors need them.
func (j *CommandJob) prepareReverseLocked(ctx context.Context) error {
	if j.reversePrepared {
		return nil
	}
	if err := j.startBrokers(ctx); err != nil {
		return err
	}
	j.reversePrepared = true
	return nil
}

func (j *CommandJob) startReverseLocked(ctx context.Context, tracker *status.Tracker) error {
	tracker.Set(status.StartReverseMigration)
	j.reverse = j.newGroup(j.opts.Job.Reverse, process.RoleConnector, status.PhaseReverse)
	if err := j.reverse.start(ctx, j.reg, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	tracker.Set(status.ReverseMigrationRunning)
	return nil
}

func (j *CommandJob) record(phase status.Phase, op string, err error) error {
	result := "ok"
	switch {
	case errors.Is(err, ErrPhaseNotConfigured), errors.Is(err, ErrInvalidState):
		result = "rejected"
		j.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "job.op_rejected").
			Str(xglog.FieldPhase, string(phase)).
			Str("op", op).
			Msg("phase operation rejected")
	case err != nil:
		result = "error"
	}
	metrics.PhaseOperations.WithLabelValues(string(phase), op, result).Inc()
	return err
}

func rejected(phase status.Phase, op string, cur status.Status) error {
	return fmt.Errorf("%w: cannot %s %s while %s", ErrInvalidState, op, phase, cur)
}

// StopIncremental stops incremental tools from RUNNING or INTERRUPTED and
// prepares the reverse phase.
func (j *CommandJob) StopIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	return j.record(status.PhaseIncremental, "stop", j.stopIncremental(ctx, token, tracker))
}

func (j *CommandJob) stopIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasIncremental() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseIncremental)
	}
	cur := tracker.Current()
	if cur != status.IncrementalMigrationRunning && cur != status.IncrementalMigrationInterrupted {
		return rejected(status.PhaseIncremental, "stop", cur)
	}
	j.stopIncrementalLocked()
	if !token.IsStopped() && j.HasReverse() {
		if err := j.prepareReverseLocked(ctx); err != nil {
			j.logger.Warn().Err(err).Msg("reverse preparation failed")
		}
	}
	tracker.Set(status.IncrementalMigrationFinished)
	return nil
}

// ResumeIncremental relaunches incremental tools after an interruption.
func (j *CommandJob) ResumeIncremental(ctx context.Context, tracker *status.Tracker) error {
	return j.record(status.PhaseIncremental, "resume", j.resumeIncremental(ctx, tracker))
}

func (j *CommandJob) resumeIncremental(ctx context.Context, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasIncremental() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseIncremental)
	}
	if cur := tracker.Current(); cur != status.IncrementalMigrationInterrupted {
		return rejected(status.PhaseIncremental, "resume", cur)
	}
	j.stopIncrementalLocked()
	j.incremental = j.newGroup(j.opts.Job.Incremental, process.RoleConnector, status.PhaseIncremental)
	if err := j.incremental.start(ctx, j.reg, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	if j.hasIncrementalCheck() {
		j.incrementalChk = j.newGroup(j.opts.Job.IncrementalCheck, process.RoleValidator, status.PhaseIncremental)
		if err := j.incrementalChk.start(ctx, j.reg, true); err != nil {
			return fmt.Errorf("%w: %w", ErrTaskFailed, err)
		}
	}
	tracker.Set(status.IncrementalMigrationRunning)
	return nil
}

// RestartIncremental starts incremental afresh from FINISHED, or stops and
// starts it from RUNNING or INTERRUPTED.
func (j *CommandJob) RestartIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	return j.record(status.PhaseIncremental, "restart", j.restartIncremental(ctx, token, tracker))
}

func (j *CommandJob) restartIncremental(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasIncremental() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseIncremental)
	}
	switch cur := tracker.Current(); cur {
	case status.IncrementalMigrationFinished:
	case status.IncrementalMigrationRunning, status.IncrementalMigrationInterrupted:
		if token.IsStopped() {
			return nil
		}
		j.stopIncrementalLocked()
		tracker.Set(status.IncrementalMigrationFinished)
	default:
		return rejected(status.PhaseIncremental, "restart", cur)
	}
	if token.IsStopped() {
		return nil
	}
	j.reversePrepared = false
	return j.startIncrementalLocked(ctx, tracker)
}

// preReverseFinished reports whether the phase before reverse has completed.
func (j *CommandJob) preReverseFinished(cur status.Status) bool {
	switch {
	case j.HasIncremental():
		return cur == status.IncrementalMigrationFinished
	case j.has(status.PhaseFullDataCheck):
		return cur == status.FullDataCheckFinished
	case j.has(status.PhaseFullMigration):
		return cur == status.FullMigrationFinished
	}
	return true
}

// StartReverse verifies the reverse preconditions and launches reverse
// connectors. A failed verification records PRE_REVERSE_PHASE_VERIFY_FAILED.
func (j *CommandJob) StartReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	return j.record(status.PhaseReverse, "start", j.startReverse(ctx, token, tracker))
}

func (j *CommandJob) startReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasReverse() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseReverse)
	}
	cur := tracker.Current()
	if cur.IsReverse() {
		return rejected(status.PhaseReverse, "start", cur)
	}
	if !j.preReverseFinished(cur) {
		return rejected(status.PhaseReverse, "start", cur)
	}
	if token.IsStopped() {
		return nil
	}
	if !j.opts.Verifier.VerifyReversePhase(ctx, j.opts.Workspace) {
		tracker.Set(status.PreReversePhaseVerifyFailed)
		j.logger.Warn().
			Str(xglog.FieldEvent, "job.reverse_verify_failed").
			Msg("reverse phase verification failed, reverse migration skipped")
		return nil
	}
	if err := j.prepareReverseLocked(ctx); err != nil {
		return err
	}
	return j.startReverseLocked(ctx, tracker)
}

// StopReverse stops reverse connectors from RUNNING or INTERRUPTED.
func (j *CommandJob) StopReverse(ctx context.Context, tracker *status.Tracker) error {
	return j.record(status.PhaseReverse, "stop", j.stopReverse(ctx, tracker))
}

func (j *CommandJob) stopReverse(_ context.Context, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasReverse() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseReverse)
	}
	cur := tracker.Current()
	if cur != status.ReverseMigrationRunning && cur != status.ReverseMigrationInterrupted {
		return rejected(status.PhaseReverse, "stop", cur)
	}
	j.reverse.stop()
	tracker.Set(status.ReverseMigrationFinished)
	return nil
}

// ResumeReverse relaunches reverse connectors after an interruption.
func (j *CommandJob) ResumeReverse(ctx context.Context, tracker *status.Tracker) error {
	return j.record(status.PhaseReverse, "resume", j.resumeReverse(ctx, tracker))
}

func (j *CommandJob) resumeReverse(ctx context.Context, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasReverse() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseReverse)
	}
	if cur := tracker.Current(); cur != status.ReverseMigrationInterrupted {
		return rejected(status.PhaseReverse, "resume", cur)
	}
	j.reverse.stop()
	j.reverse = j.newGroup(j.opts.Job.Reverse, process.RoleConnector, status.PhaseReverse)
	if err := j.reverse.start(ctx, j.reg, true); err != nil {
		return fmt.Errorf("%w: %w", ErrTaskFailed, err)
	}
	tracker.Set(status.ReverseMigrationRunning)
	return nil
}

// RestartReverse starts reverse afresh from FINISHED, or stops and starts it
// from RUNNING or INTERRUPTED.
func (j *CommandJob) RestartReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	return j.record(status.PhaseReverse, "restart", j.restartReverse(ctx, token, tracker))
}

func (j *CommandJob) restartReverse(ctx context.Context, token *stoptoken.Token, tracker *status.Tracker) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.HasReverse() {
		return fmt.Errorf("%w: %s", ErrPhaseNotConfigured, status.PhaseReverse)
	}
	switch cur := tracker.Current(); cur {
	case status.ReverseMigrationFinished:
	case status.ReverseMigrationRunning, status.ReverseMigrationInterrupted:
		if token.IsStopped() {
			return nil
		}
		j.reverse.stop()
		tracker.Set(status.ReverseMigrationFinished)
	default:
		return rejected(status.PhaseReverse, "restart", cur)
	}
	if token.IsStopped() {
		return nil
	}
	return j.startReverseLocked(ctx, tracker)
}

// StopTask stops every launched tool, then the brokers.
func (j *CommandJob) StopTask() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.full.stop()
	j.fullCheck.stop()
	j.stopIncrementalLocked()
	j.reverse.stop()
	if j.opts.Brokers != nil && j.opts.Brokers.Len() > 0 {
		j.opts.Brokers.Stop()
	}
	j.logger.Info().Str(xglog.FieldEvent, "job.stopped").Msg("all migration tools stopped")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package job

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/stoptoken"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

type fakeRunner struct {
	spec     process.TaskSpec
	waitErr  error
	started  atomic.Bool
	stopped  atomic.Bool
	finished atomic.Bool
	block    chan struct{}
}

func (f *fakeRunner) Name() string        { return f.spec.Name }
func (f *fakeRunner) Role() process.Role  { return f.spec.Role }
func (f *fakeRunner) Phase() status.Phase { return f.spec.Phase }
func (f *fakeRunner) StatusFile() string  { return f.spec.StatusFile }
func (f *fakeRunner) CheckStatus() bool   { return true }
func (f *fakeRunner) IsAlive() bool       { return f.started.Load() && !f.stopped.Load() }
func (f *fakeRunner) Finished() bool      { return f.finished.Load() || f.stopped.Load() }

func (f *fakeRunner) Start(context.Context) error {
	f.started.Store(true)
	return nil
}

func (f *fakeRunner) Stop() { f.stopped.Store(true) }

func (f *fakeRunner) Wait(ctx context.Context) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.waitErr
}

type factory struct {
	mu      sync.Mutex
	created []*fakeRunner
	prepare func(*fakeRunner)
}

func (f *factory) new(spec process.TaskSpec) Runner {
	r := &fakeRunner{spec: spec}
	if f.prepare != nil {
		f.prepare(r)
	}
	f.mu.Lock()
	f.created = append(f.created, r)
	f.mu.Unlock()
	return r
}

func (f *factory) byName(name string) []*fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeRunner
	for _, r := range f.created {
		if r.spec.Name == name {
			out = append(out, r)
		}
	}
	return out
}

type fakeVerifier struct {
	ok, reverseOK bool
	reverseCalls  int
}

func (v *fakeVerifier) Verify(context.Context, []status.Phase, *workspace.Workspace) bool {
	return v.ok
}

func (v *fakeVerifier) VerifyReversePhase(context.Context, *workspace.Workspace) bool {
	v.reverseCalls++
	return v.reverseOK
}

type fakeBrokers struct {
	starts, stops int
}

func (b *fakeBrokers) Start(context.Context) error {
	b.starts++
	return nil
}

func (b *fakeBrokers) Stop()    { b.stops++ }
func (b *fakeBrokers) Len() int { return 1 }

type registry struct {
	mu    sync.Mutex
	tasks []process.Task
}

func (r *registry) AddProcess(t process.Task) {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
}

func (r *registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tasks))
	for i, t := range r.tasks {
		out[i] = t.Name()
	}
	return out
}

type harness struct {
	job      *CommandJob
	factory  *factory
	verifier *fakeVerifier
	brokers  *fakeBrokers
	reg      *registry
	tracker  *status.Tracker
	token    *stoptoken.Token
}

func newHarness(t *testing.T, phases ...string) *harness {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	tracker, err := status.NewTracker(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)

	h := &harness{
		factory:  &factory{},
		verifier: &fakeVerifier{ok: true, reverseOK: true},
		brokers:  &fakeBrokers{},
		reg:      &registry{},
		tracker:  tracker,
		token:    stoptoken.New(),
	}
	h.job, err = NewCommandJob(Options{
		Job: config.JobConfig{
			Phases:           phases,
			FullMigration:    []config.ProcessSpec{{Name: "chameleon", StatusFile: "full.json"}},
			FullDataCheck:    []config.ProcessSpec{{Name: "check-source"}, {Name: "check-sink"}},
			Incremental:      []config.ProcessSpec{{Name: "inc-source", StatusFile: "inc-source.json"}, {Name: "inc-sink"}},
			IncrementalCheck: []config.ProcessSpec{{Name: "inc-check"}},
			Reverse:          []config.ProcessSpec{{Name: "rev-source"}, {Name: "rev-sink"}},
		},
		Workspace: ws,
		Brokers:   h.brokers,
		Verifier:  h.verifier,
		NewTask:   h.factory.new,
		WaitPoll:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	return h
}

func statuses(recs []status.Record) []status.Status {
	out := make([]status.Status, len(recs))
	for i, r := range recs {
		out[i] = r.Status
	}
	return out
}

func TestNewCommandJob_RejectsUnknownPhase(t *testing.T) {
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	_, err = NewCommandJob(Options{
		Job:       config.JobConfig{Phases: []string{"teleport"}},
		Workspace: ws,
		Verifier:  &fakeVerifier{},
	})
	assert.Error(t, err)
}

func TestStartTask_FullMigrationOnly(t *testing.T) {
	h := newHarness(t, "full_migration")
	require.NoError(t, h.job.StartTask(context.Background(), h.token, h.reg, h.tracker))

	assert.Equal(t, []status.Status{
		status.NotStart,
		status.StartFullMigration,
		status.FullMigrationRunning,
		status.FullMigrationFinished,
	}, statuses(h.tracker.History()))
	require.Len(t, h.factory.byName("chameleon"), 1)
	assert.True(t, h.factory.byName("chameleon")[0].started.Load())
	assert.Empty(t, h.reg.names(), "full copy tools run synchronously and are not supervised")
	assert.Zero(t, h.brokers.starts)
}

func TestStartTask_FullCopyFailureIsReturned(t *testing.T) {
	h := newHarness(t, "full_migration", "incremental_migration")
	h.factory.prepare = func(r *fakeRunner) {
		if r.spec.Name == "chameleon" {
			r.waitErr = errors.New("exit status 3")
		}
	}

	err := h.job.StartTask(context.Background(), h.token, h.reg, h.tracker)
	require.ErrorIs(t, err, ErrTaskFailed)
	assert.NotContains(t, statuses(h.tracker.History()), status.FullMigrationFinished)
	assert.Empty(t, h.factory.byName("inc-source"), "later steps must not run")
}

func TestStartTask_FullDataCheckWaitsForValidators(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, "full_data_check")

	done := make(chan error, 1)
	go func() { done <- h.job.StartTask(context.Background(), h.token, h.reg, h.tracker) }()

	require.Eventually(t, func() bool { return len(h.reg.names()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, status.FullDataCheckRunning, h.tracker.Current())

	for _, r := range h.factory.created {
		r.finished.Store(true)
	}
	require.NoError(t, <-done)
	assert.Equal(t, status.FullDataCheckFinished, h.tracker.Current())

	for _, task := range h.reg.tasks {
		assert.Equal(t, process.RoleValidator, task.Role())
		assert.Equal(t, status.PhaseFullDataCheck, task.Phase())
	}
}

func TestStartTask_StopTokenInterruptsFullDataCheck(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, "full_data_check", "incremental_migration")

	done := make(chan error, 1)
	go func() { done <- h.job.StartTask(context.Background(), h.token, h.reg, h.tracker) }()
	require.Eventually(t, func() bool { return len(h.reg.names()) == 2 }, time.Second, time.Millisecond)

	h.token.RequestStop()
	require.NoError(t, <-done)
	assert.Equal(t, status.FullDataCheckRunning, h.tracker.Current())
	assert.Empty(t, h.factory.byName("inc-source"))
}

func TestStartTask_BrokersRunBeforeFullDataCheck(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h := newHarness(t, "full_data_check", "incremental_migration")

	done := make(chan error, 1)
	go func() { done <- h.job.StartTask(context.Background(), h.token, h.reg, h.tracker) }()

	require.Eventually(t, func() bool { return len(h.reg.names()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, status.FullDataCheckRunning, h.tracker.Current())
	assert.Equal(t, 1, h.brokers.starts, "validators must find the broker cluster running")

	for _, r := range h.factory.created {
		r.finished.Store(true)
	}
	require.NoError(t, <-done)
	assert.Equal(t, status.IncrementalMigrationRunning, h.tracker.Current())
}

func TestStartTask_IncrementalRegistersConnectorsAfterBrokers(t *testing.T) {
	h := newHarness(t, "incremental_migration")
	require.NoError(t, h.job.StartTask(context.Background(), h.token, h.reg, h.tracker))

	assert.Equal(t, 1, h.brokers.starts)
	assert.Equal(t, []string{"inc-source", "inc-sink", "inc-check"}, h.reg.names())
	assert.Equal(t, status.IncrementalMigrationRunning, h.tracker.Current())

	src := h.factory.byName("inc-source")[0]
	assert.Equal(t, process.RoleConnector, src.spec.Role)
	assert.True(t, filepath.IsAbs(src.spec.StatusFile))
	assert.Equal(t, process.RoleValidator, h.factory.byName("inc-check")[0].spec.Role)
}

func TestStartTask_ReverseOnlyStartsReverse(t *testing.T) {
	h := newHarness(t, "reverse_migration")
	require.NoError(t, h.job.StartTask(context.Background(), h.token, h.reg, h.tracker))

	assert.Equal(t, status.ReverseMigrationRunning, h.tracker.Current())
	assert.Equal(t, []string{"rev-source", "rev-sink"}, h.reg.names())
	assert.Zero(t, h.verifier.reverseCalls)
}

func TestIncrementalOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "incremental_migration", "reverse_migration")

	// Nothing running yet.
	assert.ErrorIs(t, h.job.StopIncremental(ctx, h.token, h.tracker), ErrInvalidState)

	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))
	assert.ErrorIs(t, h.job.ResumeIncremental(ctx, h.tracker), ErrInvalidState)

	h.tracker.Set(status.IncrementalMigrationInterrupted)
	require.NoError(t, h.job.ResumeIncremental(ctx, h.tracker))
	assert.Equal(t, status.IncrementalMigrationRunning, h.tracker.Current())
	require.Len(t, h.factory.byName("inc-source"), 2)
	assert.True(t, h.factory.byName("inc-source")[0].stopped.Load())

	require.NoError(t, h.job.StopIncremental(ctx, h.token, h.tracker))
	assert.Equal(t, status.IncrementalMigrationFinished, h.tracker.Current())
	for _, r := range h.factory.byName("inc-sink") {
		assert.True(t, r.stopped.Load())
	}

	require.NoError(t, h.job.RestartIncremental(ctx, h.token, h.tracker))
	assert.Equal(t, status.IncrementalMigrationRunning, h.tracker.Current())
	assert.Len(t, h.factory.byName("inc-source"), 3)
}

func TestRestartIncremental_FromRunningStopsThenStarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "incremental_migration")
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))
	before := len(h.tracker.History())

	require.NoError(t, h.job.RestartIncremental(ctx, h.token, h.tracker))
	assert.Equal(t, []status.Status{
		status.IncrementalMigrationFinished,
		status.StartIncrementalMigration,
		status.IncrementalMigrationRunning,
	}, statuses(h.tracker.History()[before:]))
	assert.True(t, h.factory.byName("inc-source")[0].stopped.Load())
}

func TestRestartIncremental_NoopWhenStopped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "incremental_migration")
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))
	h.tracker.Set(status.IncrementalMigrationInterrupted)
	h.token.RequestStop()

	require.NoError(t, h.job.RestartIncremental(ctx, h.token, h.tracker))
	assert.Equal(t, status.IncrementalMigrationInterrupted, h.tracker.Current())
}

func TestPhaseOperations_NotConfigured(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "full_migration")

	assert.ErrorIs(t, h.job.StopIncremental(ctx, h.token, h.tracker), ErrPhaseNotConfigured)
	assert.ErrorIs(t, h.job.RestartIncremental(ctx, h.token, h.tracker), ErrPhaseNotConfigured)
	assert.ErrorIs(t, h.job.StartReverse(ctx, h.token, h.tracker), ErrPhaseNotConfigured)
	assert.ErrorIs(t, h.job.ResumeReverse(ctx, h.tracker), ErrPhaseNotConfigured)
	assert.False(t, h.job.HasIncremental())
	assert.False(t, h.job.HasReverse())
}

func TestStartReverse_RequiresIncrementalFinished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "incremental_migration", "reverse_migration")
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))

	assert.ErrorIs(t, h.job.StartReverse(ctx, h.token, h.tracker), ErrInvalidState)
	assert.Zero(t, h.verifier.reverseCalls)

	require.NoError(t, h.job.StopIncremental(ctx, h.token, h.tracker))
	require.NoError(t, h.job.StartReverse(ctx, h.token, h.tracker))
	assert.Equal(t, status.ReverseMigrationRunning, h.tracker.Current())
	assert.Equal(t, 1, h.verifier.reverseCalls)

	assert.ErrorIs(t, h.job.StartReverse(ctx, h.token, h.tracker), ErrInvalidState, "already running")
}

func TestStartReverse_VerificationFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "full_migration", "reverse_migration")
	h.verifier.reverseOK = false
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))

	require.NoError(t, h.job.StartReverse(ctx, h.token, h.tracker))
	assert.Equal(t, status.PreReversePhaseVerifyFailed, h.tracker.Current())
	assert.Empty(t, h.factory.byName("rev-source"))
}

func TestReverseOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "reverse_migration")
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))

	h.tracker.Set(status.ReverseMigrationInterrupted)
	require.NoError(t, h.job.ResumeReverse(ctx, h.tracker))
	assert.Equal(t, status.ReverseMigrationRunning, h.tracker.Current())

	require.NoError(t, h.job.StopReverse(ctx, h.tracker))
	assert.Equal(t, status.ReverseMigrationFinished, h.tracker.Current())
	assert.ErrorIs(t, h.job.StopReverse(ctx, h.tracker), ErrInvalidState)

	require.NoError(t, h.job.RestartReverse(ctx, h.token, h.tracker))
	assert.Equal(t, status.ReverseMigrationRunning, h.tracker.Current())
	assert.Len(t, h.factory.byName("rev-sink"), 3)
}

func TestStopTask_StopsEverythingAndBrokers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "incremental_migration")
	require.NoError(t, h.job.StartTask(ctx, h.token, h.reg, h.tracker))

	h.job.StopTask()
	for _, r := range h.factory.created {
		assert.True(t, r.stopped.Load(), r.spec.Name)
	}
	assert.Equal(t, 1, h.brokers.stops)
}

func TestStartTask_PhaseTimeout(t *testing.T) {
	h := newHarness(t, "full_migration")
	h.job.opts.Job.PhaseTimeout = 20 * time.Millisecond
	h.factory.prepare = func(r *fakeRunner) { r.block = make(chan struct{}) }

	err := h.job.StartTask(context.Background(), h.token, h.reg, h.tracker)
	assert.ErrorIs(t, err, ErrPhaseTimeout)
}

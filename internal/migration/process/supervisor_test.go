// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newTestSupervisor(t *testing.T, h *recordingHandler, phase *fakePhase, brokers ...Handle) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(SupervisorConfig{
		PollInterval:   10 * time.Millisecond,
		StaleThreshold: 2,
		Phase:          phase,
		Handler:        h,
		Brokers:        brokers,
	})
	require.NoError(t, err)
	return s
}

func TestNewSupervisorRequiresDependencies(t *testing.T) {
	_, err := NewSupervisor(SupervisorConfig{Phase: &fakePhase{}})
	assert.ErrorIs(t, err, ErrMissingFailureHandler)
	_, err = NewSupervisor(SupervisorConfig{Handler: &recordingHandler{}})
	assert.ErrorIs(t, err, ErrMissingPhaseView)
}

func TestPollRemovesDeadTaskAndStopsScanning(t *testing.T) {
	h := &recordingHandler{}
	s := newTestSupervisor(t, h, &fakePhase{})

	a := newFakeTask("a", RoleConnector)
	b := newFakeTask("b", RoleConnector)
	a.ok.Store(false)
	b.ok.Store(false)
	s.AddProcess(a)
	s.AddProcess(b)

	require.NoError(t, s.poll(context.Background()))
	failures, _ := h.snapshot()
	assert.Equal(t, []string{"a"}, failures, "only the first failure is handled per tick")
	assert.Len(t, s.Tasks(), 1)

	require.NoError(t, s.poll(context.Background()))
	failures, _ = h.snapshot()
	assert.Equal(t, []string{"a", "b"}, failures)
	assert.Empty(t, s.Tasks())
}

func TestPollRemovesFinishedTaskSilently(t *testing.T) {
	h := &recordingHandler{}
	s := newTestSupervisor(t, h, &fakePhase{})

	done := newFakeTask("checker", RoleValidator)
	done.finished.Store(true)
	s.AddProcess(done)

	require.NoError(t, s.poll(context.Background()))
	failures, _ := h.snapshot()
	assert.Empty(t, failures)
	assert.Empty(t, s.Tasks())
}

func TestPollStaleStatusFileStopsAndReports(t *testing.T) {
	h := &recordingHandler{}
	s := newTestSupervisor(t, h, &fakePhase{})
	fsys := &fakeFS{mtime: time.Unix(5, 0)}
	s.stale.stat = fsys.stat

	task := newFakeTask("source", RoleConnector)
	task.statusFile = "/ws/status/source.txt"
	s.AddProcess(task)

	// baseline + 2 unchanged polls, then the 3rd unchanged poll fires
	for i := 0; i < 3; i++ {
		require.NoError(t, s.poll(context.Background()))
	}
	failures, _ := h.snapshot()
	assert.Empty(t, failures)

	require.NoError(t, s.poll(context.Background()))
	failures, _ = h.snapshot()
	assert.Equal(t, []string{"source"}, failures)
	assert.Equal(t, int32(1), task.stops.Load())
	assert.Empty(t, s.Tasks())
}

func TestPollSkipsBrokersDuringFullMigration(t *testing.T) {
	h := &recordingHandler{}
	phase := &fakePhase{}
	phase.full.Store(true)
	broker := newFakeBroker("kafka", nil)
	broker.alive.Store(false)
	s := newTestSupervisor(t, h, phase, broker)

	require.NoError(t, s.poll(context.Background()))
	_, calls := h.snapshot()
	assert.Zero(t, calls)

	phase.full.Store(false)
	phase.notRunning.Store(true)
	require.NoError(t, s.poll(context.Background()))
	_, calls = h.snapshot()
	assert.Zero(t, calls)
}

func TestPollReportsBrokerFailureOnce(t *testing.T) {
	h := &recordingHandler{}
	zk := newFakeBroker("zookeeper", nil)
	kafka := newFakeBroker("kafka", nil)
	zk.alive.Store(false)
	kafka.alive.Store(false)
	s := newTestSupervisor(t, h, &fakePhase{}, zk, kafka)

	require.NoError(t, s.poll(context.Background()))
	_, calls := h.snapshot()
	assert.Equal(t, 1, calls)
}

func TestPollPropagatesFatalHandlerError(t *testing.T) {
	fatal := errors.New("validator died")
	h := &recordingHandler{taskErr: fatal}
	s := newTestSupervisor(t, h, &fakePhase{})
	task := newFakeTask("checker", RoleValidator)
	task.ok.Store(false)
	s.AddProcess(task)

	assert.ErrorIs(t, s.poll(context.Background()), fatal)
}

func TestLoopInvokesOnFatalAndExits(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	fatal := errors.New("boom")
	h := &recordingHandler{taskErr: fatal}
	got := make(chan error, 1)
	s, err := NewSupervisor(SupervisorConfig{
		Phase:   &fakePhase{},
		Handler: h,
		OnFatal: func(err error) { got <- err },
	})
	require.NoError(t, err)
	clock := &mockClock{}
	s.clock = clock

	task := newFakeTask("checker", RoleValidator)
	task.ok.Store(false)
	s.AddProcess(task)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return clock.ticker() != nil }, time.Second, time.Millisecond)
	clock.ticker().c <- time.Now()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, fatal)
	case <-time.After(time.Second):
		t.Fatal("OnFatal not called")
	}
	<-s.Done()
	assert.False(t, s.Running())
}

func TestLoopRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var fatals atomic.Int32
	s, err := NewSupervisor(SupervisorConfig{
		Phase:   &fakePhase{},
		Handler: panicHandler{},
		OnFatal: func(error) { fatals.Add(1) },
	})
	require.NoError(t, err)
	clock := &mockClock{}
	s.clock = clock
	task := newFakeTask("x", RoleConnector)
	task.ok.Store(false)
	s.AddProcess(task)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return clock.ticker() != nil }, time.Second, time.Millisecond)
	clock.ticker().c <- time.Now()
	<-s.Done()
	assert.Equal(t, int32(1), fatals.Load())
}

func TestStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := newTestSupervisor(t, &recordingHandler{}, &fakePhase{})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	assert.True(t, s.Running())

	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	assert.False(t, s.Running())
}

func TestAddProcessWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := &recordingHandler{}
	s := newTestSupervisor(t, h, &fakePhase{})
	require.NoError(t, s.Start(context.Background()))
	defer func() {
		s.Stop()
		<-s.Done()
	}()

	for i := 0; i < 20; i++ {
		s.AddProcess(newFakeTask("t", RoleConnector))
	}
	dead := newFakeTask("dead", RoleConnector)
	dead.ok.Store(false)
	s.AddProcess(dead)

	assert.Eventually(t, func() bool {
		failures, _ := h.snapshot()
		return len(failures) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, s.Tasks(), 20)
}

type panicHandler struct{}

func (panicHandler) HandleTaskFailure(context.Context, Task) error { panic("handler bug") }
func (panicHandler) HandleBrokerFailure(context.Context) error     { return nil }

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

type fakeTask struct {
	name       string
	role       Role
	statusFile string

	ok       atomic.Bool
	finished atomic.Bool
	stops    atomic.Int32
}

func newFakeTask(name string, role Role) *fakeTask {
	t := &fakeTask{name: name, role: role}
	t.ok.Store(true)
	return t
}

func (f *fakeTask) Name() string                { return f.name }
func (f *fakeTask) Start(context.Context) error { return nil }
func (f *fakeTask) Stop()                       { f.stops.Add(1) }
func (f *fakeTask) CheckStatus() bool           { return f.ok.Load() }
func (f *fakeTask) IsAlive() bool               { return f.ok.Load() }
func (f *fakeTask) Role() Role                  { return f.role }
func (f *fakeTask) Phase() status.Phase         { return status.PhaseIncremental }
func (f *fakeTask) Finished() bool              { return f.finished.Load() }
func (f *fakeTask) StatusFile() string          { return f.statusFile }

type fakeBroker struct {
	name   string
	alive  atomic.Bool
	log    *eventLog
	failOn bool
}

func newFakeBroker(name string, log *eventLog) *fakeBroker {
	b := &fakeBroker{name: name, log: log}
	b.alive.Store(true)
	return b
}

func (b *fakeBroker) Name() string { return b.name }
func (b *fakeBroker) Start(context.Context) error {
	b.log.add("start " + b.name)
	if !b.failOn {
		b.alive.Store(true)
	}
	return nil
}
func (b *fakeBroker) Stop() {
	b.log.add("stop " + b.name)
	b.alive.Store(false)
}
func (b *fakeBroker) CheckStatus() bool { return b.alive.Load() }
func (b *fakeBroker) IsAlive() bool     { return b.alive.Load() }

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakePhase struct {
	notRunning atomic.Bool
	full       atomic.Bool
}

func (p *fakePhase) IsNotRunning() bool    { return p.notRunning.Load() }
func (p *fakePhase) IsFullMigration() bool { return p.full.Load() }

type recordingHandler struct {
	mu           sync.Mutex
	taskFailures []string
	brokerCalls  int
	taskErr      error
	brokerErr    error
}

func (h *recordingHandler) HandleTaskFailure(_ context.Context, t Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taskFailures = append(h.taskFailures, t.Name())
	return h.taskErr
}

func (h *recordingHandler) HandleBrokerFailure(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.brokerCalls++
	return h.brokerErr
}

func (h *recordingHandler) snapshot() ([]string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.taskFailures...), h.brokerCalls
}

type mockClock struct {
	mu           sync.Mutex
	latestTicker *mockTicker
}

func (m *mockClock) NewTicker(time.Duration) ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestTicker = &mockTicker{c: make(chan time.Time)}
	return m.latestTicker
}

func (m *mockClock) ticker() *mockTicker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestTicker
}

type mockTicker struct {
	c chan time.Time
}

func (m *mockTicker) C() <-chan time.Time { return m.c }
func (m *mockTicker) Stop()               {}

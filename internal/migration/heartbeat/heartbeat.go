// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package heartbeat maintains a liveness file whose mtime tells external
// viewers that a migration run is still being supervised.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

// DefaultStaleWindow is how old the file may get before viewers treat the
// run as dead.
const DefaultStaleWindow = 3 * time.Minute

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("heartbeat already started")

// Emitter touches its file every interval and removes it on Stop.
type Emitter struct {
	path     string
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle emitter.
func New(path string, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Emitter{
		path:     path,
		interval: interval,
		logger:   xglog.WithComponent("heartbeat"),
	}
}

// Path returns the heartbeat file location.
func (e *Emitter) Path() string { return e.path }

// Start writes the file once synchronously and then keeps it fresh.
func (e *Emitter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0o750); err != nil {
		return fmt.Errorf("heartbeat: create dir: %w", err)
	}
	if err := e.touch(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true
	go e.run(loopCtx, e.done)

	e.logger.Info().
		Str(xglog.FieldEvent, "heartbeat.start").
		Str(xglog.FieldPath, e.path).
		Dur("interval", e.interval).
		Msg("heartbeat started")
	return nil
}

func (e *Emitter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.touch(); err != nil {
				e.logger.Warn().Err(err).Str(xglog.FieldEvent, "heartbeat.write_failed").Msg("failed to refresh heartbeat")
			}
		}
	}
}

// touch creates the file or bumps its mtime.
func (e *Emitter) touch() error {
	now := time.Now()
	err := os.Chtimes(e.path, now, now)
	if errors.Is(err, os.ErrNotExist) {
		var f *os.File
		f, err = os.OpenFile(e.path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			err = f.Close()
		}
	}
	if err != nil {
		metrics.HeartbeatWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("heartbeat: touch %s: %w", e.path, err)
	}
	metrics.HeartbeatWrites.WithLabelValues("ok").Inc()
	return nil
}

// Stop ends the loop and removes the file. Safe to call more than once.
func (e *Emitter) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	<-done
	if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn().Err(err).Str(xglog.FieldPath, e.path).Msg("failed to remove heartbeat file")
	}
	e.logger.Info().Str(xglog.FieldEvent, "heartbeat.stop").Msg("heartbeat stopped")
}

// Age returns how long ago the heartbeat file was last touched.
func Age(path string, now time.Time) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return now.Sub(info.ModTime()), nil
}

// IsStale reports whether no run is keeping the heartbeat at path fresh: the
// file is missing or older than window.
func IsStale(path string, window time.Duration, now time.Time) (bool, error) {
	age, err := Age(path, now)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return age > window, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/procgroup"
)

// Spec describes how to launch and recognise one external process.
type Spec struct {
	Name    string
	Command []string
	// Pattern identifies the process in the OS process table.
	Pattern string
	Dir     string
	Env     []string
	// LogPath receives stdout and stderr. Empty discards output.
	LogPath   string
	StartWait time.Duration
	// StopGrace bounds the wait after SIGTERM; StopPoll is the liveness step.
	StopGrace time.Duration
	StopPoll  time.Duration
}

var (
	// ErrEmptyCommand is returned by Start for a spec without argv.
	ErrEmptyCommand = errors.New("process: empty command")
	// ErrExitedDuringStartup is returned when the process dies within StartWait.
	ErrExitedDuringStartup = errors.New("process: exited during startup")
)

// Pattern lookups, replaceable in tests.
var (
	aliveByPattern  = procgroup.AliveByPattern
	signalByPattern = procgroup.SignalByPattern
)

// proc is the launch/stop machinery shared by task and broker handles.
type proc struct {
	spec   Spec
	logger zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

func newProc(spec Spec, component string) *proc {
	if spec.Pattern == "" && len(spec.Command) > 0 {
		spec.Pattern = strings.Join(spec.Command, " ")
	}
	if spec.StopGrace <= 0 {
		spec.StopGrace = 5 * time.Second
	}
	if spec.StopPoll <= 0 {
		spec.StopPoll = time.Second
	}
	return &proc{
		spec: spec,
		logger: xglog.Derive(func(c *zerolog.Context) {
			*c = c.Str(xglog.FieldComponent, component).
				Str(xglog.FieldProcess, spec.Name).
				Str(xglog.FieldPattern, spec.Pattern)
		}),
	}
}

// launch starts the command in its own process group and waits StartWait.
func (p *proc) launch(ctx context.Context) error {
	if len(p.spec.Command) == 0 {
		return ErrEmptyCommand
	}

	// #nosec G204 -- commands come from operator configuration
	cmd := exec.Command(p.spec.Command[0], p.spec.Command[1:]...)
	cmd.Dir = p.spec.Dir
	if len(p.spec.Env) > 0 {
		cmd.Env = append(os.Environ(), p.spec.Env...)
	}
	procgroup.Set(cmd)

	var logFile *os.File
	if p.spec.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.spec.LogPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(p.spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return fmt.Errorf("start %s: %w", p.spec.Name, err)
	}

	exited := make(chan struct{})
	p.mu.Lock()
	p.cmd = cmd
	p.exited = exited
	p.exitErr = nil
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(exited)
	}()

	p.logger.Info().
		Str(xglog.FieldEvent, "process.started").
		Int(xglog.FieldPID, cmd.Process.Pid).
		Msg("process started")

	if p.spec.StartWait <= 0 {
		return nil
	}
	timer := time.NewTimer(p.spec.StartWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-exited:
		if err := p.exitError(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrExitedDuringStartup, p.spec.Name, err)
		}
		// A launcher script may exit 0 after daemonising the real process.
		return nil
	}
}

// launched reports whether this handle spawned a process.
func (p *proc) launched() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// ownRunning reports whether the spawned process has not been reaped yet.
func (p *proc) ownRunning() bool {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// ownExited reports whether the spawned process was reaped, and its error.
func (p *proc) ownExited() (bool, error) {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return false, nil
	}
	select {
	case <-exited:
		return true, p.exitError()
	default:
		return false, nil
	}
}

func (p *proc) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// alive checks the owned process first and then the process table.
func (p *proc) alive() bool {
	if p.ownRunning() {
		return true
	}
	ok, err := aliveByPattern(p.spec.Pattern)
	if err != nil {
		p.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "process.alive_check_failed").
			Msg("failed to check process liveness")
		return false
	}
	return ok
}

// terminate stops the spawned process group through procgroup.Terminate,
// then deals with matching processes this handle did not spawn (adopted or
// daemonised): SIGTERM, poll every StopPoll up to StopGrace, then SIGKILL.
func (p *proc) terminate() {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd != nil && p.ownRunning() {
		if err := procgroup.Terminate(cmd, exited, p.spec.StopGrace); err != nil {
			p.logger.Error().Err(err).
				Str(xglog.FieldEvent, "process.kill_failed").
				Msg("process group still alive after SIGKILL")
		}
	}
	p.terminateByPattern()
}

func (p *proc) terminateByPattern() {
	if !p.alive() {
		return
	}
	p.signalMatching(syscall.SIGTERM)

	deadline := time.Now().Add(p.spec.StopGrace)
	for time.Now().Before(deadline) {
		time.Sleep(min(p.spec.StopPoll, time.Until(deadline)))
		if !p.alive() {
			p.logger.Info().Str(xglog.FieldEvent, "process.stopped").Msg("process stopped")
			return
		}
	}

	p.logger.Warn().
		Str(xglog.FieldEvent, "process.kill").
		Dur("grace", p.spec.StopGrace).
		Msg("process still alive after SIGTERM, sending SIGKILL")
	p.signalMatching(syscall.SIGKILL)
	time.Sleep(p.spec.StopPoll)
	if p.alive() {
		p.logger.Error().
			Str(xglog.FieldEvent, "process.kill_failed").
			Msg("process still alive after SIGKILL")
	}
}

func (p *proc) signalMatching(sig syscall.Signal) {
	if _, err := signalByPattern(p.spec.Pattern, sig); err != nil && !errors.Is(err, procgroup.ErrEmptyPattern) {
		p.logger.Warn().Err(err).Str("signal", sig.String()).Msg("failed to signal matching processes")
	}
}

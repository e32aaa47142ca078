// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("supervisor already started")
	// ErrMissingFailureHandler is returned when no handler is configured.
	ErrMissingFailureHandler = errors.New("supervisor: failure handler is required")
	// ErrMissingPhaseView is returned when no phase view is configured.
	ErrMissingPhaseView = errors.New("supervisor: phase view is required")
)

// FailureHandler decides what a detected failure means. A returned error is
// fatal for the run.
type FailureHandler interface {
	HandleTaskFailure(ctx context.Context, t Task) error
	HandleBrokerFailure(ctx context.Context) error
}

// PhaseView is the read side of the status tracker the loop needs.
type PhaseView interface {
	IsNotRunning() bool
	IsFullMigration() bool
}

type clock interface {
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	PollInterval   time.Duration
	StaleThreshold int
	Phase          PhaseView
	Handler        FailureHandler
	// Brokers is captured once; membership never changes during a run.
	Brokers []Handle
	// OnFatal receives fatal errors from the handler and loop panics.
	OnFatal func(error)
}

// Supervisor polls task and broker handles and hands failures to the
// FailureHandler. Tasks may be added from any goroutine while the loop runs.
type Supervisor struct {
	cfg    SupervisorConfig
	stale  *StalenessDetector
	clock  clock
	logger zerolog.Logger
	status rate.Sometimes

	tasksMu sync.Mutex
	tasks   []Task // replaced, never mutated in place

	running atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor validates cfg and returns an idle supervisor.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Handler == nil {
		return nil, ErrMissingFailureHandler
	}
	if cfg.Phase == nil {
		return nil, ErrMissingPhaseView
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 60
	}
	if cfg.OnFatal == nil {
		cfg.OnFatal = func(error) {}
	}
	return &Supervisor{
		cfg:    cfg,
		stale:  NewStalenessDetector(cfg.StaleThreshold),
		clock:  realClock{},
		logger: xglog.WithComponent("supervisor"),
		status: rate.Sometimes{Interval: time.Minute},
		done:   make(chan struct{}),
	}, nil
}

// AddProcess registers a task for supervision.
func (s *Supervisor) AddProcess(t Task) {
	s.tasksMu.Lock()
	next := make([]Task, 0, len(s.tasks)+1)
	next = append(next, s.tasks...)
	next = append(next, t)
	s.tasks = next
	s.tasksMu.Unlock()

	metrics.SupervisedProcesses.Set(float64(len(next)))
	s.logger.Info().
		Str(xglog.FieldEvent, "supervisor.task_added").
		Str(xglog.FieldProcess, t.Name()).
		Str(xglog.FieldRole, string(t.Role())).
		Msg("process registered for supervision")
}

// Tasks returns a snapshot of the supervised tasks.
func (s *Supervisor) Tasks() []Task {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return s.tasks
}

func (s *Supervisor) remove(t Task) {
	s.tasksMu.Lock()
	next := make([]Task, 0, len(s.tasks))
	for _, x := range s.tasks {
		if x != t {
			next = append(next, x)
		}
	}
	s.tasks = next
	s.tasksMu.Unlock()

	if f := t.StatusFile(); f != "" {
		s.stale.Forget(f)
	}
	metrics.SupervisedProcesses.Set(float64(len(next)))
}

// Start launches the polling goroutine.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running.Store(true)
	go s.run(loopCtx)
	return nil
}

// Stop clears the running flag. It does not wait for the loop; use Done.
// Safe to call from inside a FailureHandler.
func (s *Supervisor) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Str(xglog.FieldEvent, "supervisor.stop").Msg("supervisor stopping")
}

// Running reports whether the loop is active.
func (s *Supervisor) Running() bool { return s.running.Load() }

// Done is closed when the polling goroutine has exited. It never closes for
// a supervisor that was not started.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.running.Store(false)
			err := fmt.Errorf("supervisor panic: %v", r)
			s.logger.Error().Err(err).Str(xglog.FieldEvent, "supervisor.panic").Msg("supervision loop crashed")
			s.cfg.OnFatal(err)
		}
	}()

	s.logger.Info().
		Str(xglog.FieldEvent, "supervisor.start").
		Dur("poll_interval", s.cfg.PollInterval).
		Int("stale_threshold", s.cfg.StaleThreshold).
		Int("brokers", len(s.cfg.Brokers)).
		Msg("supervisor started")

	t := s.clock.NewTicker(s.cfg.PollInterval)
	defer t.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-t.C():
		}
		if !s.running.Load() {
			return
		}
		if err := s.poll(ctx); err != nil {
			s.running.Store(false)
			s.logger.Error().Err(err).Str(xglog.FieldEvent, "supervisor.fatal").Msg("unrecoverable process failure")
			s.cfg.OnFatal(err)
			return
		}
	}
}

// poll runs one supervision pass.
func (s *Supervisor) poll(ctx context.Context) error {
	tasks := s.Tasks()
	s.status.Do(func() {
		s.logger.Debug().Int("tasks", len(tasks)).Msg("supervising processes")
	})

	for _, t := range tasks {
		if !t.CheckStatus() {
			s.remove(t)
			metrics.ProcessFailures.WithLabelValues(string(t.Role()), "exited").Inc()
			s.logger.Error().
				Str(xglog.FieldEvent, "supervisor.task_failed").
				Str(xglog.FieldProcess, t.Name()).
				Str(xglog.FieldRole, string(t.Role())).
				Msg("process exited abnormally")
			if err := s.cfg.Handler.HandleTaskFailure(ctx, t); err != nil {
				return err
			}
			break
		}
		if t.Finished() {
			s.remove(t)
			s.logger.Info().
				Str(xglog.FieldEvent, "supervisor.task_finished").
				Str(xglog.FieldProcess, t.Name()).
				Msg("process finished")
			continue
		}
		if f := t.StatusFile(); f != "" && !s.stale.Progressing(f) {
			s.remove(t)
			metrics.ProcessFailures.WithLabelValues(string(t.Role()), "stale").Inc()
			metrics.StaleDetections.WithLabelValues(t.Name()).Inc()
			s.logger.Error().
				Str(xglog.FieldEvent, "supervisor.task_stale").
				Str(xglog.FieldProcess, t.Name()).
				Str(xglog.FieldPath, f).
				Msg("process status file is stale, stopping process")
			t.Stop()
			if err := s.cfg.Handler.HandleTaskFailure(ctx, t); err != nil {
				return err
			}
			break
		}
	}

	if s.cfg.Phase.IsNotRunning() || s.cfg.Phase.IsFullMigration() {
		return nil
	}
	for _, b := range s.cfg.Brokers {
		if b.CheckStatus() {
			continue
		}
		metrics.ProcessFailures.WithLabelValues(string(RoleBroker), "broker").Inc()
		s.logger.Error().
			Str(xglog.FieldEvent, "supervisor.broker_failed").
			Str(xglog.FieldProcess, b.Name()).
			Msg("broker process is down")
		return s.cfg.Handler.HandleBrokerFailure(ctx)
	}
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package controller is the single entry point of a migration run. It owns
// the stop token, the status tracker, the supervisor, the heartbeat and the
// progress monitor, and forwards phase operations to the job.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/heartbeat"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/job"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/progress"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/recovery"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/stoptoken"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/telemetry"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("controller: already started")
	// ErrMissingJob is returned by New without a job.
	ErrMissingJob = errors.New("controller: job is required")
	// ErrMissingWorkspace is returned by New without a workspace.
	ErrMissingWorkspace = errors.New("controller: workspace is required")
)

// superviseHook runs just before supervision starts. Tests replace it.
var superviseHook = func() {}

// Options wires a Controller.
type Options struct {
	Job       job.Job
	Workspace *workspace.Workspace
	// Brokers is the shared broker cluster. Nil means no brokers.
	Brokers    *process.BrokerSet
	Supervisor config.SupervisorConfig
	Heartbeat  config.HeartbeatConfig
	// ProgressInterval is the per-phase progress polling period.
	ProgressInterval time.Duration
	// RunStore mirrors transitions into the run ledger when set.
	RunStore *sqlite.RunStore
	// RunID defaults to a random UUID.
	RunID string
	// Now replaces time.Now for the tracker.
	Now func() time.Time
}

// Controller drives one migration run.
type Controller struct {
	runID      string
	ws         *workspace.Workspace
	job        job.Job
	brokers    *process.BrokerSet
	runStore   *sqlite.RunStore
	token      *stoptoken.Token
	tracker    *status.Tracker
	supervisor *process.Supervisor
	policy     *recovery.Policy
	heartbeat  *heartbeat.Emitter
	progress   *progress.Monitor
	tracer     trace.Tracer
	logger     zerolog.Logger

	started  atomic.Bool
	stopping atomic.Bool

	exitOnce sync.Once
	exit     chan struct{}

	errMu    sync.Mutex
	fatalErr error

	spanMu  sync.Mutex
	runSpan trace.Span
	endOnce sync.Once
}

// New builds the controller and everything it owns. The tracker writes the
// initial NOT_START record immediately.
func New(opts Options) (*Controller, error) {
	if opts.Job == nil {
		return nil, ErrMissingJob
	}
	if opts.Workspace == nil {
		return nil, ErrMissingWorkspace
	}
	if opts.Brokers == nil {
		opts.Brokers = process.NewBrokerSet()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	c := &Controller{
		runID:    opts.RunID,
		ws:       opts.Workspace,
		job:      opts.Job,
		brokers:  opts.Brokers,
		runStore: opts.RunStore,
		token:    stoptoken.New(),
		tracer:   telemetry.Tracer("migration/controller"),
		logger:   xglog.WithComponent("controller").With().Str(xglog.FieldRunID, opts.RunID).Logger(),
		exit:     make(chan struct{}),
	}

	if err := opts.Workspace.Ensure(); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	trackerOpts := []status.Option{status.WithObserver(status.ObserverFunc(c.traceTransition))}
	if opts.Now != nil {
		trackerOpts = append(trackerOpts, status.WithClock(opts.Now))
	}
	if opts.RunStore != nil {
		trackerOpts = append(trackerOpts, status.WithObserver(opts.RunStore.Observer(opts.RunID)))
	}
	tracker, err := status.NewTracker(opts.Workspace.HistoryPath(), trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c.tracker = tracker

	policy, err := recovery.New(tracker, opts.Brokers, c)
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c.policy = policy

	sup, err := process.NewSupervisor(process.SupervisorConfig{
		PollInterval:   opts.Supervisor.PollInterval,
		StaleThreshold: opts.Supervisor.StaleThreshold,
		Phase:          tracker,
		Handler:        policy,
		Brokers:        opts.Brokers.Handles(),
		OnFatal:        c.onFatal,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c.supervisor = sup

	interval := opts.Heartbeat.Interval
	if interval <= 0 {
		interval = time.Second
	}
	c.heartbeat = heartbeat.New(opts.Workspace.HeartbeatPath(), interval)
	c.progress = progress.New(progress.Options{
		Phase:     tracker,
		Tasks:     sup.Tasks,
		Workspace: opts.Workspace,
		Interval:  opts.ProgressInterval,
	})
	return c, nil
}

// RunID identifies this run in logs, traces and the run ledger.
func (c *Controller) RunID() string { return c.runID }

// Tracker exposes the status tracker for read access.
func (c *Controller) Tracker() *status.Tracker { return c.tracker }

// History returns a copy of the status history.
func (c *Controller) History() []status.Record { return c.tracker.History() }

// Token exposes the stop token.
func (c *Controller) Token() *stoptoken.Token { return c.token }

// Supervisor exposes the supervision loop.
func (c *Controller) Supervisor() *process.Supervisor { return c.supervisor }

// Done is closed once the run should end: verification failed, a fatal
// error stopped it, Stop completed, or a job without streaming phases
// finished its synchronous work.
func (c *Controller) Done() <-chan struct{} { return c.exit }

// Err returns the fatal error that ended the run, if any.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.fatalErr
}

func (c *Controller) signalExit() {
	c.exitOnce.Do(func() { close(c.exit) })
}

// Start runs pre-flight verification, starts supervision and heartbeat, then
// runs the job's synchronous phases. It blocks until full migration and full
// data check are done.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx = xglog.ContextWithRunID(ctx, c.runID)
	ctx, span := c.tracer.Start(ctx, "migration.run",
		trace.WithAttributes(telemetry.RunAttributes(c.runID, "")...))
	c.spanMu.Lock()
	c.runSpan = span
	c.spanMu.Unlock()

	if c.runStore != nil {
		if err := c.runStore.BeginRun(ctx, c.runID, c.ws.Root(), time.Now()); err != nil {
			c.logger.Warn().Err(err).Str(xglog.FieldEvent, "controller.ledger_failed").Msg("run ledger unavailable")
		}
	}

	c.logger.Info().Str(xglog.FieldEvent, "controller.start").Msg("migration starting")
	c.tracker.Set(status.MigrationStarting)

	if !c.job.PreMigrationVerify(ctx) {
		c.stopping.Store(true)
		c.token.RequestStop()
		c.tracker.Set(status.PreMigrationVerifyFailed)
		c.logger.Error().
			Str(xglog.FieldEvent, "controller.verify_failed").
			Str(xglog.FieldPath, c.ws.VerifyResultPath()).
			Msg("pre-migration verification failed, see verification result")
		c.endRun(nil)
		c.signalExit()
		return nil
	}

	if c.token.IsStopped() {
		return nil
	}
	superviseHook()
	if err := c.supervisor.Start(ctx); err != nil {
		c.StopOnError(err)
		return nil
	}
	if err := c.heartbeat.Start(ctx); err != nil {
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "controller.heartbeat_failed").Msg("heartbeat not started")
	}
	if err := c.progress.Start(ctx); err != nil {
		c.logger.Warn().Err(err).Str(xglog.FieldEvent, "controller.progress_failed").Msg("progress monitor not started")
	}
	// A Stop that landed after the token check found nothing running yet.
	if c.stopping.Load() {
		c.stopBackground()
		return nil
	}

	if err := c.job.BeforeTask(ctx); err != nil {
		c.StopOnError(fmt.Errorf("before task: %w", err))
		return nil
	}
	if err := c.job.StartTask(ctx, c.token, c.supervisor, c.tracker); err != nil {
		c.StopOnError(fmt.Errorf("start task: %w", err))
		return nil
	}

	if !c.job.HasIncremental() && !c.job.HasReverse() {
		c.logger.Info().Str(xglog.FieldEvent, "controller.sync_done").Msg("all phases completed")
		c.signalExit()
	}
	return nil
}

// Stop ends the run normally. Only the first call does anything.
func (c *Controller) Stop() {
	if !c.stopping.CompareAndSwap(false, true) {
		return
	}
	c.tracker.Set(status.MigrationStopping)
	c.doStop()
	c.tracker.Set(status.MigrationFinished)
	c.logger.Info().Str(xglog.FieldEvent, "controller.stopped").Msg("migration stopped")
	c.endRun(nil)
	c.signalExit()
}

// StopOnError records MIGRATION_FAILED and stops the run unless a stop is
// already in progress.
func (c *Controller) StopOnError(reason error) {
	c.errMu.Lock()
	if c.fatalErr == nil {
		c.fatalErr = reason
	}
	c.errMu.Unlock()

	c.tracker.Set(status.MigrationFailed)
	c.logger.Error().Err(reason).Str(xglog.FieldEvent, "controller.fatal").Msg("migration failed")

	if !c.stopping.CompareAndSwap(false, true) {
		return
	}
	c.doStop()
	c.endRun(reason)
	c.signalExit()
}

func (c *Controller) onFatal(err error) {
	c.StopOnError(err)
}

func (c *Controller) doStop() {
	c.token.RequestStop()
	c.job.StopTask()
	c.stopBackground()
}

func (c *Controller) stopBackground() {
	c.supervisor.Stop()
	c.heartbeat.Stop()
	c.progress.Stop()
}

func (c *Controller) endRun(err error) {
	c.endOnce.Do(func() {
		c.spanMu.Lock()
		span := c.runSpan
		c.spanMu.Unlock()
		if span == nil {
			return
		}
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(attribute.String(telemetry.StatusKey, c.tracker.Current().String()))
		span.End()
	})
}

func (c *Controller) traceTransition(prev status.Status, rec status.Record) {
	c.spanMu.Lock()
	span := c.runSpan
	c.spanMu.Unlock()
	if span == nil {
		return
	}
	span.AddEvent("status.transition", trace.WithAttributes(
		attribute.String("from", prev.String()),
		attribute.String(telemetry.StatusKey, rec.Status.String()),
		attribute.Int("code", rec.Status.Code()),
	), trace.WithTimestamp(rec.Timestamp))
}

// Progress returns the per-phase progress monitor.
func (c *Controller) Progress() *progress.Monitor { return c.progress }

// AddProcess registers an externally launched task for supervision.
func (c *Controller) AddProcess(t process.Task) {
	c.supervisor.AddProcess(t)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the lifecycle of one migration run: the controller,
// the control API, telemetry and the run ledger.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/api"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/controller"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/telemetry"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// DefaultShutdownTimeout bounds API and telemetry shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// App runs one migration until it ends or the context is cancelled.
type App struct {
	cfg             config.Config
	ws              *workspace.Workspace
	ctl             *controller.Controller
	api             *api.Server
	provider        *telemetry.Provider
	runStore        *sqlite.RunStore
	shutdownTimeout time.Duration
	logger          zerolog.Logger

	ready   chan struct{}
	apiAddr string
}

// Controller returns the run controller.
func (a *App) Controller() *controller.Controller { return a.ctl }

// Workspace returns the run workspace.
func (a *App) Workspace() *workspace.Workspace { return a.ws }

// Ready is closed once the control API listens (or immediately after Run
// begins when the API is disabled).
func (a *App) Ready() <-chan struct{} { return a.ready }

// APIAddr is the bound API address; valid after Ready.
func (a *App) APIAddr() string { return a.apiAddr }

// Run starts the controller and the API and blocks until the run is over.
// Cancelling ctx performs a normal stop. It returns ErrVerifyFailed or
// ErrRunFailed when the run did not end normally.
func (a *App) Run(ctx context.Context) error {
	defer a.release()

	var ln net.Listener
	if a.api != nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.API.ListenAddr)
		if err != nil {
			close(a.ready)
			return fmt.Errorf("%w: %w", ErrServerStartFailed, err)
		}
		a.apiAddr = ln.Addr().String()
	}
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)

	// The run ends through its stop token, not through ctx, so that a signal
	// records a normal stop instead of an aborted phase.
	runCtx := context.WithoutCancel(gctx)
	g.Go(func() error {
		return a.ctl.Start(runCtx)
	})

	if ln != nil {
		g.Go(func() error {
			if err := a.api.Serve(ln); err != nil {
				return fmt.Errorf("%w: %w", ErrServerStartFailed, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			a.logger.Info().Str(xglog.FieldEvent, "daemon.shutdown_signal").Msg("shutdown requested")
		case <-a.ctl.Done():
		}
		a.ctl.Stop()
		<-a.ctl.Done()

		if a.api != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
			defer cancel()
			if err := a.api.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn().Err(err).Str(xglog.FieldEvent, "daemon.api_shutdown_failed").Msg("control API shutdown failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return a.outcome()
}

func (a *App) outcome() error {
	if err := a.ctl.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrRunFailed, err)
	}
	switch a.ctl.Tracker().Current() {
	case status.PreMigrationVerifyFailed:
		return fmt.Errorf("%w: see %s", ErrVerifyFailed, a.ws.VerifyResultPath())
	case status.MigrationFailed:
		return ErrRunFailed
	}
	return nil
}

// release closes what Build opened. Safe to call more than once.
func (a *App) release() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	var errs []error
	if a.provider != nil {
		errs = append(errs, a.provider.Shutdown(ctx))
		a.provider = nil
	}
	if a.runStore != nil {
		errs = append(errs, a.runStore.Close())
		a.runStore = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Str(xglog.FieldEvent, "daemon.release_failed").Msg("resource cleanup failed")
	}
}

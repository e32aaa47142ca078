// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/api"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/controller"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/heartbeat"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/job"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/verify"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/telemetry"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// RunStorePath resolves the configured ledger path against the workspace.
func RunStorePath(cfg config.Config, ws *workspace.Workspace) string {
	if filepath.IsAbs(cfg.RunStore.Path) {
		return cfg.RunStore.Path
	}
	return ws.StatusPath(cfg.RunStore.Path)
}

// Build assembles every component of a run from a validated config. The
// caller owns the returned App and must call Run, which releases resources.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger := xglog.WithComponent("daemon")

	ws, err := workspace.New(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Telemetry, cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{
		cfg:             cfg,
		ws:              ws,
		provider:        provider,
		shutdownTimeout: DefaultShutdownTimeout,
		ready:           make(chan struct{}),
		logger:          logger,
	}

	runStorePath := ""
	if cfg.RunStore.Enabled {
		runStorePath = RunStorePath(cfg, ws)
		store, err := sqlite.OpenRunStore(runStorePath)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("run store: %w", err)
		}
		a.runStore = store
	}

	handles := make([]process.Handle, 0, len(cfg.Brokers))
	for _, ps := range cfg.Brokers {
		handles = append(handles, process.NewBrokerProcess(job.ProcessSpec(ps, ws, cfg.Supervisor)))
	}
	brokers := process.NewBrokerSet(handles...)

	j, err := job.NewCommandJob(job.Options{
		Job:        cfg.Job,
		Supervisor: cfg.Supervisor,
		Workspace:  ws,
		Brokers:    brokers,
		Verifier:   verify.NewService(verify.FromConfig(cfg, runStorePath)),
	})
	if err != nil {
		a.release()
		return nil, err
	}

	ctl, err := controller.New(controller.Options{
		Job:        j,
		Workspace:  ws,
		Brokers:    brokers,
		Supervisor: cfg.Supervisor,
		Heartbeat:  cfg.Heartbeat,
		RunStore:   a.runStore,

		ProgressInterval: cfg.Supervisor.ProgressInterval,
	})
	if err != nil {
		a.release()
		return nil, err
	}
	a.ctl = ctl

	if cfg.API.Enabled {
		window := cfg.Heartbeat.StaleWindow
		probe := func(now time.Time) (bool, error) {
			return heartbeat.IsStale(ws.HeartbeatPath(), window, now)
		}
		a.api = api.New(cfg.API, ctl, cfg.Version, probe)
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.built").
		Str(xglog.FieldRunID, ctl.RunID()).
		Str("workspace", ws.Root()).
		Strs("phases", cfg.Job.Phases).
		Int("brokers", brokers.Len()).
		Bool("api", a.api != nil).
		Bool("run_store", a.runStore != nil).
		Msg("migration run assembled")
	return a, nil
}

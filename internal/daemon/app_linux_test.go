// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/api"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/persistence/sqlite"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Workspace = t.TempDir()
	cfg.Supervisor.PollInterval = 10 * time.Millisecond
	cfg.Supervisor.StopGrace = 500 * time.Millisecond
	cfg.Supervisor.StopPoll = 20 * time.Millisecond
	cfg.Heartbeat.Interval = 50 * time.Millisecond
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Job.RequiredTools = []string{"sh"}
	return cfg
}

func marker(name string) string {
	return fmt.Sprintf("portal-daemon-%s-%d", name, time.Now().UnixNano())
}

func runApp(t *testing.T, ctx context.Context, cfg config.Config) (*App, chan error) {
	t.Helper()
	app, err := Build(ctx, cfg)
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	select {
	case <-app.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("app never became ready")
	}
	return app, errCh
}

func wait(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("run did not end")
		return nil
	}
}

func statuses(recs []status.Record) []status.Status {
	out := make([]status.Status, len(recs))
	for i, r := range recs {
		out[i] = r.Status
	}
	return out
}

func TestRun_FullMigrationCompletes(t *testing.T) {
	cfg := testConfig(t)
	m := marker("full")
	cfg.Job.Phases = []string{"full_migration"}
	cfg.Job.FullMigration = []config.ProcessSpec{{
		Name:    "full-copy",
		Command: []string{"sh", "-c", "echo copied", m},
		Pattern: m,
	}}

	app, errCh := runApp(t, context.Background(), cfg)
	require.NoError(t, wait(t, errCh))

	recs, err := status.Load(app.Workspace().HistoryPath())
	require.NoError(t, err)
	assert.Equal(t, []status.Status{
		status.NotStart,
		status.MigrationStarting,
		status.StartFullMigration,
		status.FullMigrationRunning,
		status.FullMigrationFinished,
		status.MigrationStopping,
		status.MigrationFinished,
	}, statuses(recs))

	store, err := sqlite.OpenRunStore(RunStorePath(cfg, app.Workspace()))
	require.NoError(t, err)
	defer store.Close()
	run, err := store.GetRun(context.Background(), app.Controller().RunID())
	require.NoError(t, err)
	assert.Equal(t, status.MigrationFinished, run.LastStatus)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestRun_VerifyFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Enabled = false
	cfg.Job.RequiredTools = []string{"portal-missing-tool-xyz"}
	cfg.Job.FullMigration = []config.ProcessSpec{{Name: "full-copy", Command: []string{"true"}}}

	app, errCh := runApp(t, context.Background(), cfg)
	err := wait(t, errCh)
	require.ErrorIs(t, err, ErrVerifyFailed)
	assert.Equal(t, status.PreMigrationVerifyFailed, app.Controller().Tracker().Current())
	assert.FileExists(t, app.Workspace().VerifyResultPath())
}

func TestRun_CancelStopsStreamingRun(t *testing.T) {
	cfg := testConfig(t)
	m := marker("connector")
	cfg.Job.Phases = []string{"incremental_migration"}
	cfg.Job.Incremental = []config.ProcessSpec{{
		Name:    "connector",
		Command: []string{"sh", "-c", "sleep 30", m},
		Pattern: m,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, errCh := runApp(t, ctx, cfg)

	require.Eventually(t, func() bool {
		return app.Controller().Tracker().Current() == status.IncrementalMigrationRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + app.APIAddr() + "/status")
	require.NoError(t, err)
	var body api.StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, app.Controller().RunID(), body.RunID)
	assert.Equal(t, "INCREMENTAL_MIGRATION_RUNNING", body.Status)

	cancel()
	require.NoError(t, wait(t, errCh))
	assert.Equal(t, status.MigrationFinished, app.Controller().Tracker().Current())
}

func TestRun_StopViaAPI(t *testing.T) {
	cfg := testConfig(t)
	m := marker("api-stop")
	cfg.Job.Phases = []string{"incremental_migration"}
	cfg.Job.Incremental = []config.ProcessSpec{{
		Name:    "connector",
		Command: []string{"sh", "-c", "sleep 30", m},
		Pattern: m,
	}}

	app, errCh := runApp(t, context.Background(), cfg)
	require.Eventually(t, func() bool {
		return app.Controller().Tracker().Current() == status.IncrementalMigrationRunning
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+app.APIAddr()+"/stop", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, wait(t, errCh))
	assert.Equal(t, status.MigrationFinished, app.Controller().Tracker().Current())
}

func TestRun_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.API.ListenAddr = busy.Addr().String()
	cfg.Job.FullMigration = []config.ProcessSpec{{Name: "full-copy", Command: []string{"true"}}}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.ErrorIs(t, app.Run(context.Background()), ErrServerStartFailed)
}

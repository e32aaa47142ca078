// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "1.0.0").Load()
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, 60, cfg.Supervisor.StaleThreshold)
	assert.Equal(t, 5*time.Second, cfg.Supervisor.StopGrace)
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 3*time.Minute, cfg.Heartbeat.StaleWindow)
	assert.Equal(t, "1.0.0", cfg.Version)
	assert.True(t, filepath.IsAbs(cfg.Workspace))
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	path := writeConfig(t, `
workspace: /tmp/portal-ws
supervisor:
  pollInterval: 250ms
  staleThreshold: 10
brokers:
  - name: zookeeper
    command: ["zookeeper-server-start.sh", "zk.properties"]
    endpoint: 127.0.0.1:2181
job:
  phases: [full_migration, incremental_migration]
  incremental:
    - name: source
      command: ["connect-standalone", "source.properties"]
      statusFile: source-status.txt
`)
	t.Setenv(EnvStaleThreshold, "30")

	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/portal-ws", cfg.Workspace)
	assert.Equal(t, 250*time.Millisecond, cfg.Supervisor.PollInterval)
	assert.Equal(t, 30, cfg.Supervisor.StaleThreshold, "env overrides file")
	require.Len(t, cfg.Brokers, 1)
	assert.Equal(t, "zookeeper-server-start.sh zk.properties", cfg.Brokers[0].Pattern)
	assert.Equal(t, "zookeeper.log", cfg.Brokers[0].LogFile)
	assert.Equal(t, []string{"full_migration", "incremental_migration"}, cfg.Job.Phases)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "workspace: /tmp/x\nbogus: 1\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestInvalidEnvFallsBackToFileValue(t *testing.T) {
	t.Setenv(EnvPollInterval, "soon")
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, cfg.Supervisor.PollInterval)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"fmt"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startSleeper spawns a shell with a recognisable argv in its own group.
func startSleeper(t *testing.T, marker string) (*exec.Cmd, chan struct{}) {
	t.Helper()
	cmd := exec.Command("sh", "-c", "sleep 100 & sleep 100; true", marker)
	Set(cmd)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-exited
	})
	return cmd, exited
}

func TestSetMakesGroupLeader(t *testing.T) {
	cmd, _ := startSleeper(t, "portal-test-leader")
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid, "PID should be PGID leader")
}

func TestFindByPattern(t *testing.T) {
	marker := fmt.Sprintf("portal-test-find-%d", time.Now().UnixNano())
	cmd, _ := startSleeper(t, marker)

	pids, err := FindByPattern(marker)
	require.NoError(t, err)
	assert.Contains(t, pids, cmd.Process.Pid)

	alive, err := AliveByPattern(marker)
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = AliveByPattern(marker + "-absent")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestFindByPatternRejectsEmpty(t *testing.T) {
	_, err := FindByPattern("  ")
	assert.ErrorIs(t, err, ErrEmptyPattern)
}

func TestTerminateKillsGroup(t *testing.T) {
	cmd, exited := startSleeper(t, "portal-test-terminate")
	pgid := cmd.Process.Pid

	require.NoError(t, Terminate(cmd, exited, 2*time.Second))

	// The background sleep may outlive the shell briefly; the group must go.
	require.Eventually(t, func() bool {
		return syscall.Kill(-pgid, syscall.Signal(0)) == syscall.ESRCH
	}, 2*time.Second, 20*time.Millisecond, "process group should be dead")
}

func TestSignalByPattern(t *testing.T) {
	marker := fmt.Sprintf("portal-test-signal-%d", time.Now().UnixNano())
	_, exited := startSleeper(t, marker)

	n, err := SignalByPattern(marker, syscall.SIGTERM)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}

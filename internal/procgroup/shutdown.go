// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

// Terminate stops the process group of cmd: SIGTERM, wait up to grace for
// exited to close, then SIGKILL and wait up to grace again.
// exited must be closed by whoever owns cmd.Wait.
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, exited <-chan struct{}, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	recordSignal("SIGTERM", Kill(cmd, syscall.SIGTERM))

	select {
	case <-exited:
		metrics.IncProcWait("exited")
		return nil
	case <-time.After(grace):
	}

	recordSignal("SIGKILL", Kill(cmd, syscall.SIGKILL))

	select {
	case <-exited:
		metrics.IncProcWait("forced")
		return nil
	case <-time.After(grace):
		metrics.IncProcWait("stuck")
		return ErrKillFailed
	}
}

func recordSignal(name string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case errors.Is(err, syscall.ESRCH):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

// Package procgroup starts external tools in their own process group and
// finds or signals them again by command-line pattern.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
	ErrEmptyPattern    = errors.New("empty process pattern")
)

// Set configures the command to start in a new process group.
// Mandatory for Kill to reach the whole tree.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill sends a signal to the process group of the command.
// If the command or process is nil, or if the process has already exited, it returns nil.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	// Negative PGID signals the whole group
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// FindByPattern returns the PIDs of all processes whose command line contains
// pattern. The calling process is never included.
func FindByPattern(pattern string) ([]int, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	procs, err := listProcesses()
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var pids []int
	for _, p := range procs {
		if p.pid == self {
			continue
		}
		if strings.Contains(p.cmdline, pattern) {
			pids = append(pids, p.pid)
		}
	}
	return pids, nil
}

// AliveByPattern reports whether any process matches pattern.
func AliveByPattern(pattern string) (bool, error) {
	pids, err := FindByPattern(pattern)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// SignalByPattern delivers sig to every process matching pattern and returns
// how many were signalled. Processes that vanish in between are ignored.
func SignalByPattern(pattern string, sig syscall.Signal) (int, error) {
	pids, err := FindByPattern(pattern)
	if err != nil {
		return 0, err
	}
	name := signalName(sig)
	sent := 0
	var errs []error
	for _, pid := range pids {
		switch err := syscall.Kill(pid, sig); {
		case err == nil:
			sent++
			metrics.IncProcTerminate(name, "sent")
		case errors.Is(err, syscall.ESRCH):
			metrics.IncProcTerminate(name, "esrch")
		default:
			metrics.IncProcTerminate(name, "error")
			errs = append(errs, err)
		}
	}
	return sent, errors.Join(errs...)
}

type procEntry struct {
	pid     int
	cmdline string
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	default:
		return sig.String()
	}
}

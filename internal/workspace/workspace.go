// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package workspace resolves the on-disk layout of one migration run.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File names inside the status directory.
const (
	HistoryFile      = "migration_status.json"
	HeartbeatFile    = "heartbeat"
	VerifyResultFile = "verify_result.json"
	// ProgressSuffix is appended to a phase name to form its progress file.
	ProgressSuffix = "_progress.json"
)

// Workspace is the directory tree of a migration run:
//
//	<root>/status   history, heartbeat, connector progress files
//	<root>/logs     stdout/stderr of external tools
//	<root>/config   rendered tool configuration
//	<root>/tmp      scratch space
type Workspace struct {
	root string
}

// New returns a Workspace rooted at root. The path is made absolute.
func New(root string) (*Workspace, error) {
	if root == "" {
		return nil, errors.New("workspace: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

func (w *Workspace) Root() string      { return w.root }
func (w *Workspace) StatusDir() string { return filepath.Join(w.root, "status") }
func (w *Workspace) LogDir() string    { return filepath.Join(w.root, "logs") }
func (w *Workspace) ConfigDir() string { return filepath.Join(w.root, "config") }
func (w *Workspace) TmpDir() string    { return filepath.Join(w.root, "tmp") }

func (w *Workspace) HistoryPath() string      { return w.StatusPath(HistoryFile) }
func (w *Workspace) HeartbeatPath() string    { return w.StatusPath(HeartbeatFile) }
func (w *Workspace) VerifyResultPath() string { return w.StatusPath(VerifyResultFile) }

// ProgressPath is the aggregated progress file of one phase.
func (w *Workspace) ProgressPath(phase string) string {
	if phase == "" {
		return ""
	}
	return w.StatusPath(phase + ProgressSuffix)
}

// StatusPath resolves name inside the status directory. Absolute names are
// returned unchanged.
func (w *Workspace) StatusPath(name string) string {
	return resolve(w.StatusDir(), name)
}

// LogPath resolves name inside the log directory.
func (w *Workspace) LogPath(name string) string {
	return resolve(w.LogDir(), name)
}

func resolve(dir, name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Ensure creates every workspace directory.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.StatusDir(), w.LogDir(), w.ConfigDir(), w.TmpDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}
	return nil
}

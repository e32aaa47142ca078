// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package process wraps the external tools of a migration behind one handle
// contract and supervises them.
package process

import (
	"context"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

// Role classifies a task process for failure handling.
type Role string

const (
	// RoleConnector is a change-data-capture connector (incremental or reverse).
	RoleConnector Role = "connector"
	// RoleValidator is a data-check tool.
	RoleValidator Role = "validator"
	// RoleFullCopy is a bulk copy tool.
	RoleFullCopy Role = "full_copy"
	// RoleBroker is a member of the message-broker cluster.
	RoleBroker Role = "broker"
)

// Handle is the uniform lifecycle contract for every external process.
type Handle interface {
	Name() string
	// Start launches the process. Calling Start on a running handle is a no-op.
	Start(ctx context.Context) error
	// Stop terminates the process, escalating to SIGKILL after a bounded wait.
	// Failures are logged, never returned.
	Stop()
	// CheckStatus returns false when the process should be treated as failed.
	CheckStatus() bool
	// IsAlive is the OS-level liveness check by command pattern.
	IsAlive() bool
}

// Task is a per-phase process registered with the Supervisor.
type Task interface {
	Handle
	Role() Role
	Phase() status.Phase
	// Finished reports graceful completion or a deliberate stop.
	Finished() bool
	// StatusFile is the progress file watched for staleness, or "".
	StatusFile() string
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrRunFailed wraps the fatal error that ended a migration run.
	ErrRunFailed = errors.New("migration run failed")

	// ErrVerifyFailed is returned when pre-migration verification rejected the run.
	ErrVerifyFailed = errors.New("pre-migration verification failed")

	// ErrServerStartFailed is returned when the control API cannot bind.
	ErrServerStartFailed = errors.New("control API failed to start")
)

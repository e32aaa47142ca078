// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recovery

import (
	"errors"
	"fmt"
)

var (
	// ErrValidatorDied means a data-check tool exited without finishing.
	ErrValidatorDied = errors.New("data check process exited abnormally")
	// ErrBrokerDuringCheck means the broker cluster died during full data check.
	ErrBrokerDuringCheck = errors.New("broker failed during full data check")
	// ErrBrokerRestartFailed means the single broker restart attempt failed.
	ErrBrokerRestartFailed = errors.New("broker restart failed")
	// ErrResumeFailed means the phase could not be resumed after a broker restart.
	ErrResumeFailed = errors.New("phase resume after broker restart failed")

	// ErrMissingPhaseView, ErrMissingBrokers and ErrMissingRestarter are
	// constructor errors.
	ErrMissingPhaseView = errors.New("recovery: phase view is required")
	ErrMissingBrokers   = errors.New("recovery: broker restarter is required")
	ErrMissingRestarter = errors.New("recovery: phase restarter is required")
)

// FatalError is a failure the run cannot survive. The controller reacts by
// recording MIGRATION_FAILED and stopping everything.
type FatalError struct {
	// Phase is the status current when the failure was classified.
	Phase string
	// Process is the failed process name, or "" for broker failures.
	Process string
	Err     error
}

func (e *FatalError) Error() string {
	switch {
	case e.Process != "":
		return fmt.Sprintf("fatal failure of %s during %s: %v", e.Process, e.Phase, e.Err)
	default:
		return fmt.Sprintf("fatal failure during %s: %v", e.Phase, e.Err)
	}
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recovery classifies process failures by role and current phase and
// decides between ignoring, interrupting, restarting and aborting.
package recovery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/process"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

// PhaseView is the part of the status tracker the policy reads and writes.
type PhaseView interface {
	Current() status.Status
	Set(status.Status) bool
	IsNotRunning() bool
	IsFullMigration() bool
	IsFullDataCheck() bool
	IsIncremental() bool
	IsReverse() bool
	IsIncrementalStopped() bool
	IsReverseStopped() bool
}

// BrokerRestarter performs one full broker cluster restart.
type BrokerRestarter interface {
	Restart(ctx context.Context) error
}

// PhaseRestarter resumes a streaming phase after the brokers came back.
type PhaseRestarter interface {
	RestartIncremental(ctx context.Context) error
	RestartReverse(ctx context.Context) error
}

// Policy implements process.FailureHandler.
type Policy struct {
	phase     PhaseView
	brokers   BrokerRestarter
	restarter PhaseRestarter
	logger    zerolog.Logger
}

var _ process.FailureHandler = (*Policy)(nil)

// New wires a policy. All dependencies are required.
func New(phase PhaseView, brokers BrokerRestarter, restarter PhaseRestarter) (*Policy, error) {
	if phase == nil {
		return nil, ErrMissingPhaseView
	}
	if brokers == nil {
		return nil, ErrMissingBrokers
	}
	if restarter == nil {
		return nil, ErrMissingRestarter
	}
	return &Policy{
		phase:     phase,
		brokers:   brokers,
		restarter: restarter,
		logger:    xglog.WithComponent("recovery"),
	}, nil
}

// HandleTaskFailure reacts to a task that died or stalled.
//
//   - validator: fatal
//   - connector: the active streaming phase is marked interrupted
//   - anything else: logged only
func (p *Policy) HandleTaskFailure(_ context.Context, t process.Task) error {
	current := p.phase.Current()
	logger := p.logger.With().
		Str(xglog.FieldProcess, t.Name()).
		Str(xglog.FieldRole, string(t.Role())).
		Str(xglog.FieldStatus, current.String()).
		Logger()

	switch t.Role() {
	case process.RoleValidator:
		logger.Error().Str(xglog.FieldEvent, "recovery.validator_died").Msg("data check process exited abnormally")
		return &FatalError{Phase: current.String(), Process: t.Name(), Err: ErrValidatorDied}

	case process.RoleConnector:
		if p.phase.IsIncremental() {
			logger.Warn().Str(xglog.FieldEvent, "recovery.incremental_interrupted").Msg("connector failed, incremental migration interrupted")
			p.phase.Set(status.IncrementalMigrationInterrupted)
		}
		if p.phase.IsReverse() {
			logger.Warn().Str(xglog.FieldEvent, "recovery.reverse_interrupted").Msg("connector failed, reverse migration interrupted")
			p.phase.Set(status.ReverseMigrationInterrupted)
		}
		return nil

	default:
		logger.Warn().Str(xglog.FieldEvent, "recovery.task_ignored").Msg("process failure has no recovery action")
		return nil
	}
}

// HandleBrokerFailure reacts to a dead broker. Outside streaming phases the
// failure is ignored or fatal; inside them the cluster is restarted once and
// the phase resumed.
func (p *Policy) HandleBrokerFailure(ctx context.Context) error {
	current := p.phase.Current()
	logger := p.logger.With().Str(xglog.FieldStatus, current.String()).Logger()

	if p.phase.IsNotRunning() || p.phase.IsFullMigration() {
		logger.Debug().Str(xglog.FieldEvent, "recovery.broker_ignored").Msg("broker failure ignored in current phase")
		return nil
	}
	if p.phase.IsFullDataCheck() {
		logger.Error().Str(xglog.FieldEvent, "recovery.broker_during_check").Msg("broker failed during full data check")
		return &FatalError{Phase: current.String(), Err: ErrBrokerDuringCheck}
	}

	if err := p.brokers.Restart(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "recovery.broker_restart_failed").Msg("broker restart failed")
		return &FatalError{
			Phase: phaseLabel(current),
			Err:   fmt.Errorf("%w: %w", ErrBrokerRestartFailed, err),
		}
	}

	switch {
	case p.phase.IsIncremental() && !p.phase.IsIncrementalStopped():
		logger.Info().Str(xglog.FieldEvent, "recovery.resume_incremental").Msg("brokers restarted, restarting incremental migration")
		if err := p.restarter.RestartIncremental(ctx); err != nil {
			return &FatalError{Phase: current.String(), Err: fmt.Errorf("%w: %w", ErrResumeFailed, err)}
		}
	case p.phase.IsReverse() && !p.phase.IsReverseStopped():
		logger.Info().Str(xglog.FieldEvent, "recovery.resume_reverse").Msg("brokers restarted, restarting reverse migration")
		if err := p.restarter.RestartReverse(ctx); err != nil {
			return &FatalError{Phase: current.String(), Err: fmt.Errorf("%w: %w", ErrResumeFailed, err)}
		}
	default:
		logger.Info().Str(xglog.FieldEvent, "recovery.broker_restarted").Msg("brokers restarted, no phase to resume")
	}
	return nil
}

// phaseLabel names the phase for operator-facing fatal messages.
func phaseLabel(s status.Status) string {
	switch {
	case s.IsIncremental():
		return "incremental migration"
	case s.IsReverse():
		return "reverse migration"
	default:
		return s.String()
	}
}

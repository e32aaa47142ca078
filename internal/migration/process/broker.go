// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package process

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
)

// ErrBrokerNotAlive is returned when a broker is not running after start.
var ErrBrokerNotAlive = errors.New("broker not alive after start")

// BrokerProcess is a long-lived member of the message-broker cluster shared
// by all phases. It is recognised by pattern, so a broker started by a
// previous portal run is adopted rather than launched twice.
type BrokerProcess struct {
	*proc
	mu sync.Mutex
}

var _ Handle = (*BrokerProcess)(nil)

// NewBrokerProcess returns a broker handle.
func NewBrokerProcess(spec Spec) *BrokerProcess {
	return &BrokerProcess{proc: newProc(spec, "broker")}
}

func (b *BrokerProcess) Name() string { return b.spec.Name }

// Start launches the broker unless it is already running.
func (b *BrokerProcess) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.alive() {
		b.logger.Debug().Msg("broker already running")
		return nil
	}
	if err := b.launch(ctx); err != nil {
		return err
	}
	if !b.alive() {
		return fmt.Errorf("%w: %s", ErrBrokerNotAlive, b.spec.Name)
	}
	return nil
}

func (b *BrokerProcess) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminate()
}

func (b *BrokerProcess) IsAlive() bool     { return b.alive() }
func (b *BrokerProcess) CheckStatus() bool { return b.alive() }

// BrokerSet is the ordered broker cluster (e.g. coordinator, broker, registry).
type BrokerSet struct {
	handles []Handle
	logger  zerolog.Logger
}

// NewBrokerSet keeps handles in start order.
func NewBrokerSet(handles ...Handle) *BrokerSet {
	return &BrokerSet{
		handles: handles,
		logger:  xglog.WithComponent("broker-set"),
	}
}

// Handles returns the brokers in start order.
func (s *BrokerSet) Handles() []Handle {
	out := make([]Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Len returns the number of brokers.
func (s *BrokerSet) Len() int { return len(s.handles) }

// Start starts every broker in order and stops at the first failure.
func (s *BrokerSet) Start(ctx context.Context) error {
	for _, h := range s.handles {
		if err := h.Start(ctx); err != nil {
			return fmt.Errorf("start broker %s: %w", h.Name(), err)
		}
	}
	return nil
}

// Stop stops every broker in reverse order.
func (s *BrokerSet) Stop() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		s.handles[i].Stop()
	}
}

// Restart performs exactly one stop-all/start-all cycle and succeeds only if
// every broker is alive afterwards.
func (s *BrokerSet) Restart(ctx context.Context) error {
	s.logger.Warn().Str(xglog.FieldEvent, "broker.restart").Msg("restarting broker cluster")
	s.Stop()
	if err := s.Start(ctx); err != nil {
		metrics.BrokerRestarts.WithLabelValues("failed").Inc()
		return err
	}
	for _, h := range s.handles {
		if !h.IsAlive() {
			metrics.BrokerRestarts.WithLabelValues("failed").Inc()
			return fmt.Errorf("%w: %s", ErrBrokerNotAlive, h.Name())
		}
	}
	metrics.BrokerRestarts.WithLabelValues("ok").Inc()
	s.logger.Info().Str(xglog.FieldEvent, "broker.restarted").Msg("broker cluster restarted")
	return nil
}

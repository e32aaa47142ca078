// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package verify runs the pre-flight checks that gate a migration run and
// the reverse phase.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/metrics"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/workspace"
)

// Scope labels written to the result file.
const (
	ScopeMigration = "migration"
	ScopeReverse   = "reverse"
)

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Report is the content of the verification result file.
type Report struct {
	Scope     string        `json:"scope"`
	Phases    []string      `json:"phases,omitempty"`
	Passed    bool          `json:"passed"`
	Checks    []CheckResult `json:"checks"`
	Timestamp int64         `json:"timestamp"`
}

// Options selects what the chains check.
type Options struct {
	RequiredTools []string
	Brokers       []config.ProcessSpec
	RunStorePath  string
	DialTimeout   time.Duration
	// Extra checkers are appended to every chain.
	Extra []Checker
}

// Service builds ordered checker chains per phase set and records the outcome.
type Service struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// NewService returns a Service.
func NewService(opts Options) *Service {
	return &Service{
		opts:   opts,
		now:    time.Now,
		logger: xglog.WithComponent("verify"),
	}
}

// FromConfig derives the options from a loaded configuration.
func FromConfig(cfg config.Config, runStorePath string) Options {
	return Options{
		RequiredTools: cfg.Job.RequiredTools,
		Brokers:       cfg.Brokers,
		RunStorePath:  runStorePath,
	}
}

// Chain returns the checkers run before a migration with the given phases.
func (s *Service) Chain(phases []status.Phase, ws *workspace.Workspace) []Checker {
	chain := []Checker{
		WritableDir{Label: "status", Dir: ws.StatusDir()},
		WritableDir{Label: "logs", Dir: ws.LogDir()},
	}
	if len(s.opts.RequiredTools) > 0 {
		chain = append(chain, ToolsAvailable{Tools: s.opts.RequiredTools})
	}
	if status.HasPhase(phases, status.PhaseIncremental) || status.HasPhase(phases, status.PhaseReverse) {
		chain = append(chain, s.brokerChecks()...)
	}
	if s.opts.RunStorePath != "" {
		chain = append(chain, RunStoreIntegrity{Path: s.opts.RunStorePath})
	}
	return append(chain, s.opts.Extra...)
}

// ReverseChain returns the checkers run before the reverse phase starts.
func (s *Service) ReverseChain(ws *workspace.Workspace) []Checker {
	chain := []Checker{WritableDir{Label: "status", Dir: ws.StatusDir()}}
	chain = append(chain, s.brokerChecks()...)
	return append(chain, s.opts.Extra...)
}

func (s *Service) brokerChecks() []Checker {
	var out []Checker
	for _, b := range s.opts.Brokers {
		if b.Endpoint == "" {
			continue
		}
		out = append(out, EndpointReachable{Label: b.Name, Endpoint: b.Endpoint, Timeout: s.opts.DialTimeout})
	}
	return out
}

// Verify runs the migration chain and reports whether every check passed.
func (s *Service) Verify(ctx context.Context, phases []status.Phase, ws *workspace.Workspace) bool {
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return s.run(ctx, ws, Report{Scope: ScopeMigration, Phases: names}, s.Chain(phases, ws))
}

// VerifyReversePhase runs the reverse-phase chain.
func (s *Service) VerifyReversePhase(ctx context.Context, ws *workspace.Workspace) bool {
	return s.run(ctx, ws, Report{Scope: ScopeReverse}, s.ReverseChain(ws))
}

// run executes every checker in order; a failed check does not short-circuit
// so the result file lists all problems at once.
func (s *Service) run(ctx context.Context, ws *workspace.Workspace, rep Report, chain []Checker) bool {
	rep.Passed = true
	for _, c := range chain {
		res := CheckResult{Name: c.Name(), Passed: true}
		if err := ctx.Err(); err != nil {
			res.Passed, res.Error = false, err.Error()
		} else if err := c.Check(ctx); err != nil {
			res.Passed, res.Error = false, err.Error()
		}
		if !res.Passed {
			rep.Passed = false
			metrics.VerifyCheckFailures.WithLabelValues(res.Name).Inc()
			s.logger.Warn().
				Str(xglog.FieldEvent, "verify.check_failed").
				Str("check", res.Name).
				Str("error", res.Error).
				Msg("pre-flight check failed")
		}
		rep.Checks = append(rep.Checks, res)
	}
	rep.Timestamp = s.now().UnixMilli()

	result := "pass"
	if !rep.Passed {
		result = "fail"
	}
	metrics.VerifyRuns.WithLabelValues(rep.Scope, result).Inc()

	if err := writeReport(ws.VerifyResultPath(), rep); err != nil {
		s.logger.Error().Err(err).
			Str(xglog.FieldEvent, "verify.write_failed").
			Str(xglog.FieldPath, ws.VerifyResultPath()).
			Msg("failed to write verification result")
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "verify.completed").
		Str("scope", rep.Scope).
		Bool("passed", rep.Passed).
		Int("checks", len(rep.Checks)).
		Msg("verification finished")
	return rep.Passed
}

func writeReport(path string, rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// LoadReport reads a verification result file.
func LoadReport(path string) (Report, error) {
	var rep Report
	data, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("decode %s: %w", path, err)
	}
	return rep, nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// KnownPhases are the phase names accepted in job.phases, in canonical order.
var KnownPhases = []string{
	"full_migration",
	"full_data_check",
	"incremental_migration",
	"reverse_migration",
}

// Validate checks a resolved Config. All violations are reported together.
func Validate(cfg Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(cfg.Workspace) == "" {
		add("workspace: must not be empty")
	}
	if cfg.Supervisor.PollInterval <= 0 {
		add("supervisor.pollInterval: must be positive, got %s", cfg.Supervisor.PollInterval)
	}
	if cfg.Supervisor.StaleThreshold < 1 {
		add("supervisor.staleThreshold: must be >= 1, got %d", cfg.Supervisor.StaleThreshold)
	}
	if cfg.Supervisor.StopGrace < 0 {
		add("supervisor.stopGrace: must not be negative")
	}
	if cfg.Supervisor.StopPoll <= 0 {
		add("supervisor.stopPoll: must be positive")
	}
	if cfg.Supervisor.ProgressInterval < 0 {
		add("supervisor.progressInterval: must not be negative")
	}
	if cfg.Heartbeat.Interval <= 0 {
		add("heartbeat.interval: must be positive")
	}
	if cfg.Heartbeat.StaleWindow <= cfg.Heartbeat.Interval {
		add("heartbeat.staleWindow: must exceed heartbeat.interval")
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Job.Phases {
		if !isKnownPhase(p) {
			add("job.phases: unknown phase %q", p)
		}
		if seen[p] {
			add("job.phases: duplicate phase %q", p)
		}
		seen[p] = true
	}

	checkSpecs := func(section string, specs []ProcessSpec) {
		names := make(map[string]bool)
		for i, s := range specs {
			if s.Name == "" {
				add("%s[%d].name: must not be empty", section, i)
			} else if names[s.Name] {
				add("%s[%d].name: duplicate %q", section, i, s.Name)
			}
			names[s.Name] = true
			if len(s.Command) == 0 {
				add("%s[%d].command: must not be empty", section, i)
			}
			if s.Endpoint != "" {
				if _, _, err := net.SplitHostPort(s.Endpoint); err != nil {
					add("%s[%d].endpoint: %v", section, i, err)
				}
			}
		}
	}
	checkSpecs("brokers", cfg.Brokers)
	checkSpecs("job.fullMigration", cfg.Job.FullMigration)
	checkSpecs("job.fullDataCheck", cfg.Job.FullDataCheck)
	checkSpecs("job.incremental", cfg.Job.Incremental)
	checkSpecs("job.incrementalCheck", cfg.Job.IncrementalCheck)
	checkSpecs("job.reverse", cfg.Job.Reverse)

	if cfg.API.Enabled {
		if _, _, err := net.SplitHostPort(cfg.API.ListenAddr); err != nil {
			add("api.listenAddr: %v", err)
		}
		if cfg.API.RateLimit < 1 {
			add("api.rateLimit: must be >= 1")
		}
	}
	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter: unsupported %q (supported: grpc, http)", cfg.Telemetry.ExporterType)
		}
	}
	if cfg.RunStore.Enabled && strings.TrimSpace(cfg.RunStore.Path) == "" {
		add("runStore.path: must not be empty when enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func isKnownPhase(p string) bool {
	for _, k := range KnownPhases {
		if p == k {
			return true
		}
	}
	return false
}

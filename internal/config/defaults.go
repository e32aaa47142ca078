// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

const (
	DefaultPollInterval        = 500 * time.Millisecond
	DefaultStaleThreshold      = 60
	DefaultStopGrace           = 5 * time.Second
	DefaultStopPoll            = time.Second
	DefaultProgressInterval    = time.Second
	DefaultHeartbeatInterval   = time.Second
	DefaultHeartbeatStaleAfter = 3 * time.Minute
	DefaultListenAddr          = "127.0.0.1:8711"
	DefaultRateLimit           = 60
	DefaultPhaseTimeout        = 0
	DefaultRunStorePath        = "runs.db"
)

// Defaults returns a Config populated with built-in defaults.
func Defaults() Config {
	return Config{
		Workspace: "./workspace",
		Log:       LogConfig{Level: "info"},
		Supervisor: SupervisorConfig{
			PollInterval:     DefaultPollInterval,
			StaleThreshold:   DefaultStaleThreshold,
			StopGrace:        DefaultStopGrace,
			StopPoll:         DefaultStopPoll,
			ProgressInterval: DefaultProgressInterval,
		},
		Heartbeat: HeartbeatConfig{
			Interval:    DefaultHeartbeatInterval,
			StaleWindow: DefaultHeartbeatStaleAfter,
		},
		Job: JobConfig{
			Phases:       []string{"full_migration"},
			PhaseTimeout: DefaultPhaseTimeout,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: DefaultListenAddr,
			RateLimit:  DefaultRateLimit,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
			Environment:  "production",
		},
		RunStore: RunStoreConfig{
			Enabled: true,
			Path:    DefaultRunStorePath,
		},
	}
}

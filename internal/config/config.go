// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for the migration portal.
package config

import "time"

// Config is the fully resolved portal configuration.
type Config struct {
	Workspace  string           `yaml:"workspace"`
	Log        LogConfig        `yaml:"log"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Brokers    []ProcessSpec    `yaml:"brokers"`
	Job        JobConfig        `yaml:"job"`
	API        APIConfig        `yaml:"api"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	RunStore   RunStoreConfig   `yaml:"runStore"`

	// Version is injected by the loader, never read from file.
	Version string `yaml:"-"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SupervisorConfig tunes the process supervision loop.
type SupervisorConfig struct {
	// PollInterval is the sleep between two supervision passes.
	PollInterval time.Duration `yaml:"pollInterval"`
	// StaleThreshold is the number of consecutive unchanged polls after which
	// a connector status file is considered stale.
	StaleThreshold int `yaml:"staleThreshold"`
	// StopGrace bounds how long a stopped process may take to exit before SIGKILL.
	StopGrace time.Duration `yaml:"stopGrace"`
	// StopPoll is the liveness polling step while waiting for StopGrace.
	StopPoll time.Duration `yaml:"stopPoll"`
	// ProgressInterval is how often tool status files are folded into the
	// per-phase progress files.
	ProgressInterval time.Duration `yaml:"progressInterval"`
}

// HeartbeatConfig controls the liveness marker file.
type HeartbeatConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleWindow time.Duration `yaml:"staleWindow"`
}

// ProcessSpec describes one external process the portal launches and watches.
type ProcessSpec struct {
	Name string `yaml:"name"`
	// Command is the argv used to launch the process.
	Command []string `yaml:"command"`
	// Pattern is the command-line snippet identifying the process in the OS
	// process table. Defaults to the joined Command.
	Pattern string   `yaml:"pattern"`
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
	// LogFile receives stdout and stderr, relative to the workspace log dir.
	LogFile string `yaml:"logFile"`
	// StatusFile is the progress file the process rewrites while healthy,
	// relative to the workspace status dir. Empty disables staleness checks.
	StatusFile string `yaml:"statusFile"`
	// FinishMarker is a file whose appearance means the process completed.
	FinishMarker string `yaml:"finishMarker"`
	// StartWait is how long to wait after launch before checking liveness.
	StartWait time.Duration `yaml:"startWait"`
	// Endpoint is a host:port probed by pre-flight verification (brokers).
	Endpoint string `yaml:"endpoint"`
}

// JobConfig describes the phases of one migration and the tools each runs.
type JobConfig struct {
	// Phases lists the enabled phases in execution order:
	// full_migration, full_data_check, incremental_migration, reverse_migration.
	Phases []string `yaml:"phases"`

	FullMigration    []ProcessSpec `yaml:"fullMigration"`
	FullDataCheck    []ProcessSpec `yaml:"fullDataCheck"`
	Incremental      []ProcessSpec `yaml:"incremental"`
	IncrementalCheck []ProcessSpec `yaml:"incrementalCheck"`
	Reverse          []ProcessSpec `yaml:"reverse"`

	// RequiredTools are executables that must resolve on PATH before start.
	RequiredTools []string `yaml:"requiredTools"`
	// PhaseTimeout bounds a synchronous phase (full migration, full check).
	PhaseTimeout time.Duration `yaml:"phaseTimeout"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is the number of requests per minute accepted per client.
	RateLimit int `yaml:"rateLimit"`
}

// TelemetryConfig mirrors telemetry.Config for file and env loading.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// RunStoreConfig configures the sqlite run ledger.
type RunStoreConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is relative to the workspace status dir unless absolute.
	Path string `yaml:"path"`
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) track(key string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: Parse File (Strict) -> Apply Env -> Normalize -> Validate.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.Workspace); err == nil {
		cfg.Workspace = abs
	}
	normalizeSpecs(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file on top of cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Workspace = ParseString(l.track(EnvWorkspace), cfg.Workspace)
	cfg.Log.Level = ParseString(l.track(EnvLogLevel), cfg.Log.Level)

	cfg.Supervisor.PollInterval = ParseDuration(l.track(EnvPollInterval), cfg.Supervisor.PollInterval)
	cfg.Supervisor.StaleThreshold = ParseInt(l.track(EnvStaleThreshold), cfg.Supervisor.StaleThreshold)
	cfg.Supervisor.StopGrace = ParseDuration(l.track(EnvStopGrace), cfg.Supervisor.StopGrace)

	cfg.Heartbeat.Interval = ParseDuration(l.track(EnvHeartbeatInterval), cfg.Heartbeat.Interval)
	cfg.Heartbeat.StaleWindow = ParseDuration(l.track(EnvHeartbeatStale), cfg.Heartbeat.StaleWindow)

	cfg.API.Enabled = ParseBool(l.track(EnvAPIEnabled), cfg.API.Enabled)
	cfg.API.ListenAddr = ParseString(l.track(EnvAPIListen), cfg.API.ListenAddr)
	cfg.API.RateLimit = ParseInt(l.track(EnvAPIRateLimit), cfg.API.RateLimit)

	cfg.RunStore.Enabled = ParseBool(l.track(EnvRunStoreEnabled), cfg.RunStore.Enabled)
	cfg.RunStore.Path = ParseString(l.track(EnvRunStorePath), cfg.RunStore.Path)

	cfg.Telemetry.Enabled = ParseBool(l.track(EnvOTelEnabled), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(l.track(EnvOTelExporter), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(l.track(EnvOTelEndpoint), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.track(EnvOTelSampling), cfg.Telemetry.SamplingRate)
}

// normalizeSpecs fills derived defaults on every process spec.
func normalizeSpecs(cfg *Config) {
	lists := [][]ProcessSpec{
		cfg.Brokers,
		cfg.Job.FullMigration,
		cfg.Job.FullDataCheck,
		cfg.Job.Incremental,
		cfg.Job.IncrementalCheck,
		cfg.Job.Reverse,
	}
	for _, list := range lists {
		for i := range list {
			if list[i].Pattern == "" {
				list[i].Pattern = strings.Join(list[i].Command, " ")
			}
			if list[i].LogFile == "" && list[i].Name != "" {
				list[i].LogFile = list[i].Name + ".log"
			}
		}
	}
}

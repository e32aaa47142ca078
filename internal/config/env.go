// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

// Environment keys understood by the loader.
const (
	EnvWorkspace         = "PORTAL_WORKSPACE"
	EnvLogLevel          = "PORTAL_LOG_LEVEL"
	EnvPollInterval      = "PORTAL_POLL_INTERVAL"
	EnvStaleThreshold    = "PORTAL_STALE_THRESHOLD"
	EnvStopGrace         = "PORTAL_STOP_GRACE"
	EnvHeartbeatInterval = "PORTAL_HEARTBEAT_INTERVAL"
	EnvHeartbeatStale    = "PORTAL_HEARTBEAT_STALE_WINDOW"
	EnvAPIEnabled        = "PORTAL_API_ENABLED"
	EnvAPIListen         = "PORTAL_API_LISTEN"
	EnvAPIRateLimit      = "PORTAL_API_RATE_LIMIT"
	EnvRunStoreEnabled   = "PORTAL_RUNSTORE_ENABLED"
	EnvRunStorePath      = "PORTAL_RUNSTORE_PATH"
	EnvOTelEnabled       = "PORTAL_OTEL_ENABLED"
	EnvOTelExporter      = "PORTAL_OTEL_EXPORTER"
	EnvOTelEndpoint      = "PORTAL_OTEL_ENDPOINT"
	EnvOTelSampling      = "PORTAL_OTEL_SAMPLING_RATE"
)

// parseEnv resolves key through parse, falling back to def when the variable is
// unset, empty or malformed. The chosen source is logged at debug level.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", def).
			Str("source", "default").
			Msg("using default value")
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("key", key).
			Str("value", v).
			Interface("default", def).
			Msg("invalid environment variable, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", parsed)
	}
	ev.Msg("using environment variable")
	return parsed
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

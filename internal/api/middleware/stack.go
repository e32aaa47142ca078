// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// StackConfig selects the optional parts of the middleware stack.
type StackConfig struct {
	// TracingService names the otelhttp server spans; empty disables tracing.
	TracingService string
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
}

// Apply installs the middleware stack on r, outermost first.
func Apply(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	r.Use(Logging)
	r.Use(RateLimit(cfg.RateLimit, time.Minute))
}

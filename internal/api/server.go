// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the local control API of a running migration: status,
// health, metrics, stop and phase operations.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/api/middleware"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/config"
	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

// Control is the controller surface the API drives.
type Control interface {
	RunID() string
	History() []status.Record
	Stop()

	StopIncremental(ctx context.Context) error
	ResumeIncremental(ctx context.Context) error
	RestartIncremental(ctx context.Context) error

	StartReverse(ctx context.Context) error
	StopReverse(ctx context.Context) error
	ResumeReverse(ctx context.Context) error
	RestartReverse(ctx context.Context) error
}

// HeartbeatProbe reports whether the heartbeat file is stale.
type HeartbeatProbe func(now time.Time) (bool, error)

// Server is the control API HTTP server.
type Server struct {
	cfg       config.APIConfig
	ctl       Control
	version   string
	heartbeat HeartbeatProbe
	router    chi.Router
	srv       *http.Server
	logger    zerolog.Logger
}

// New builds the router. heartbeat may be nil.
func New(cfg config.APIConfig, ctl Control, version string, heartbeat HeartbeatProbe) *Server {
	s := &Server{
		cfg:       cfg,
		ctl:       ctl,
		version:   version,
		heartbeat: heartbeat,
		logger:    xglog.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	middleware.Apply(r, middleware.StackConfig{
		TracingService: "migration-portal-api",
		RateLimit:      s.cfg.RateLimit,
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/stop", s.handleStop)
	r.Post("/incremental/{op}", s.handleIncremental)
	r.Post("/reverse/{op}", s.handleReverse)
	return r
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "api.listen").
		Str("addr", ln.Addr().String()).
		Msg("control API listening")
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

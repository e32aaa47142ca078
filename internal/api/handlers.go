// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/job"
	"github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/migration/status"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID          string          `json:"runId"`
	Version        string          `json:"version,omitempty"`
	Status         string          `json:"status"`
	Code           int             `json:"code"`
	Description    string          `json:"description"`
	Since          int64           `json:"since"`
	HeartbeatStale *bool           `json:"heartbeatStale,omitempty"`
	History        []status.Record `json:"history,omitempty"`
}

// OperationResponse is the body of accepted control requests.
type OperationResponse struct {
	Operation string `json:"operation"`
	Status    string `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hist := s.ctl.History()
	cur := status.Latest(hist)
	resp := StatusResponse{
		RunID:       s.ctl.RunID(),
		Version:     s.version,
		Status:      cur.Status.String(),
		Code:        cur.Status.Code(),
		Description: cur.Status.Description(),
		Since:       cur.Timestamp.UnixMilli(),
	}
	if r.URL.Query().Get("history") == "true" {
		resp.History = hist
	}
	if s.heartbeat != nil {
		if stale, err := s.heartbeat(time.Now()); err == nil {
			resp.HeartbeatStale = &stale
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStop answers immediately; stopping waits for every tool to exit.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithComponentFromContext(r.Context(), "api")
	logger.Info().Str(xglog.FieldEvent, "api.stop_requested").Msg("stop requested")
	go s.ctl.Stop()
	writeJSON(w, http.StatusAccepted, OperationResponse{Operation: "stop", Status: "accepted"})
}

type phaseOp func(ctx context.Context) error

func (s *Server) handleIncremental(w http.ResponseWriter, r *http.Request) {
	ops := map[string]phaseOp{
		"stop":    s.ctl.StopIncremental,
		"resume":  s.ctl.ResumeIncremental,
		"restart": s.ctl.RestartIncremental,
	}
	s.dispatch(w, r, "incremental", ops)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	ops := map[string]phaseOp{
		"start":   s.ctl.StartReverse,
		"stop":    s.ctl.StopReverse,
		"resume":  s.ctl.ResumeReverse,
		"restart": s.ctl.RestartReverse,
	}
	s.dispatch(w, r, "reverse", ops)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, phase string, ops map[string]phaseOp) {
	name := chi.URLParam(r, "op")
	op, ok := ops[name]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown operation "+phase+"/"+name))
		return
	}
	// Phase operations outlive the request; a client disconnect must not
	// abort a half-done restart.
	ctx := context.WithoutCancel(r.Context())
	if err := op(ctx); err != nil {
		switch {
		case errors.Is(err, job.ErrPhaseNotConfigured):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, job.ErrInvalidState):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, OperationResponse{
		Operation: phase + "/" + name,
		Status:    status.Latest(s.ctl.History()).Status.String(),
	})
}

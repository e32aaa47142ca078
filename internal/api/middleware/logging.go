// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	xglog "github.com/opengauss-mirror/openGauss-migration-portal-sub003/internal/log"
)

// Logging writes one structured line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := xglog.WithComponentFromContext(r.Context(), "api")
		ev := logger.Info()
		if ww.Status() >= http.StatusInternalServerError {
			ev = logger.Error()
		} else if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			ev = logger.Debug()
		}
		ev.Str(xglog.FieldEvent, "api.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

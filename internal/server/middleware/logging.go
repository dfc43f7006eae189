package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/gatehouse/internal/service"
)

type logSlotKey struct{}

// logSlot is filled in by handlers deeper in the chain so the access log
// can attribute a request to whoever the gate admitted.
type logSlot struct {
	principal string
}

// Logger returns an HTTP middleware that writes one access log line per
// request: method, matched route, status, size, duration, request ID,
// remote address and, on gated routes, the admitted principal. 5xx
// responses log at Error and 4xx at Warn. Query strings are never logged
// because invite and reset links carry raw tokens there.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			slot := &logSlot{}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), logSlotKey{}, slot)))

			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			}

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}

			attrs := []any{
				"method", r.Method,
				"route", route,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if slot.principal != "" {
				attrs = append(attrs, "principal", slot.principal)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// notePrincipal records p for the access log, if Logger is in the chain.
func notePrincipal(ctx context.Context, p service.Principal) {
	slot, ok := ctx.Value(logSlotKey{}).(*logSlot)
	if !ok {
		return
	}
	switch v := p.(type) {
	case service.AdminPrincipal:
		slot.principal = "admin:" + strconv.FormatInt(v.Admin.ID, 10)
	default:
		slot.principal = p.Type()
	}
}

// responseWriter captures the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

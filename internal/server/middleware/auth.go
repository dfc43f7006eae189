package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/faucetdb/gatehouse/internal/service"
	"github.com/faucetdb/gatehouse/internal/session"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authorized principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	// OperatorKeyHeader carries the static operator key.
	OperatorKeyHeader = "X-Admin-Key"
)

// RequireAdmin returns an HTTP middleware that admits a request only if the
// gate resolves a principal for it, either from the session cookie or from
// the operator key (X-Admin-Key header or Bearer Authorization). The
// principal is attached to the request context.
//
// A session cookie holding an expired token is cleared; an invalid one is
// left alone.
func RequireAdmin(gate *service.Gate, cookie session.Cookie, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := gate.Resolve(r.Context(), service.Credentials{
				SessionToken: cookie.Read(r),
				OperatorKey:  operatorKey(r),
			})
			if err != nil {
				logger.Error("authorization failed", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			if res.ClearSession {
				cookie.Clear(w)
			}
			if res.Principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Sign in or provide the operator key.")
				return
			}

			notePrincipal(r.Context(), res.Principal)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, res.Principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func operatorKey(r *http.Request) string {
	if key := r.Header.Get(OperatorKeyHeader); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// GetPrincipal extracts the authorized principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(service.Principal); ok {
		return p
	}
	return nil
}

// GetAdminID returns the id of the session admin behind the request, or nil
// when the request was authorized some other way.
func GetAdminID(ctx context.Context) *int64 {
	if p, ok := GetPrincipal(ctx).(service.AdminPrincipal); ok {
		id := p.Admin.ID
		return &id
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid import cycle with handler package
	w.Write([]byte(`{"error":{"code":` + httpStatusString(status) + `,"message":"` + message + `"}}`))
}

func httpStatusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 429:
		return "429"
	default:
		return "500"
	}
}

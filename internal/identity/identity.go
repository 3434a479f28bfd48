// Package identity gates local API routes on the signed-in provider session.
package identity

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
)

const (
	ScreenHeaderName = "X-Prestador-Screen-ID"
	ScreenQueryParam = "screen_id"
	DefaultScreenID  = "default"
)

type contextKey int

const (
	sessionKey contextKey = iota
	screenIDKey
)

var screenIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionGate reports the current authentication state.
type SessionGate interface {
	IsAuthenticated() bool
	Session() *domain.Session
}

// SessionFromContext returns the session snapshot attached by RequireSession.
func SessionFromContext(ctx context.Context) *domain.Session {
	if v, ok := ctx.Value(sessionKey).(*domain.Session); ok {
		return v
	}
	return nil
}

// UserIDFromContext returns the provider id of the attached session.
func UserIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.Identity.ID()
	}
	return ""
}

// TokenFromContext returns the bearer token of the attached session.
func TokenFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.Token
	}
	return ""
}

// ScreenIDFromContext returns the screen instance id of the request.
func ScreenIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(screenIDKey).(string); ok {
		return v
	}
	return DefaultScreenID
}

func sanitizeScreenID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !screenIDPattern.MatchString(id) {
		return DefaultScreenID
	}
	return id
}

// ScreenIDFromRequest reads the screen id from the header or query string.
func ScreenIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(ScreenHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(ScreenQueryParam)
	}
	return sanitizeScreenID(sid)
}

// RequireSession rejects requests with 401 unless a session is active, and
// attaches the session snapshot and screen id to the request context.
func RequireSession(gate SessionGate, catalog *locale.Catalog) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := gate.Session()
			if !gate.IsAuthenticated() || !session.Complete() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": catalog.Lookup(locale.NotAuthenticated)})
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, session)
			ctx = context.WithValue(ctx, screenIDKey, ScreenIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

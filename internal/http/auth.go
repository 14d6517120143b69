package http

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// Returns true if expected is empty (no auth configured) or if tokens match.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// clientIP returns the request's remote host without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// guard wraps an API handler with bearer-token auth and per-IP rate limiting.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.token()) {
			slog.Warn("security.unauthorized", "path", r.URL.Path, "remote", clientIP(r))
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, protocol.ErrRateLimited, "")
			return
		}
		next(w, r)
	}
}

// API authentication middleware — static bearer token.
//
// When gateway.api_key is non-empty in config, all requests MUST carry
// Authorization: Bearer <api_key> or X-API-Key: <api_key>. WebSocket
// upgrades fall back to the ?token= query param since browsers cannot set
// arbitrary headers on the upgrade request.
//
// Exempt routes: GET /api/health.
//
// Grounded on pkg/api/auth.go, adapted to this gateway's single exempt
// route (no static dashboard is served here).
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sipeed/agentclaw/internal/logger"
)

func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnCF("auth", "API auth disabled — no gateway.api_key configured", nil)
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !tokenValid(extractToken(r), apiKey) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="agentclaw"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized — bearer token required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}

func tokenValid(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func isPublicPath(path string) bool {
	return path == "/api/health"
}

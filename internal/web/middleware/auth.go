package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/auditimport/internal/config"
	"github.com/JonMunkholm/auditimport/internal/core"
)

// UserIDHeader carries the caller identity when no API key names one.
const UserIDHeader = "X-User-ID"

// APIKeyAuth returns middleware that validates the X-API-Key header against
// configured keys and records the key's actor on the request context.
// If RequireAPIKey is false, requests without a key pass through; a key that
// is sent must still be valid.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if !cfg.RequireAPIKey {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			actor, ok := lookupAPIKey(apiKey, cfg.APIKeys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r.WithContext(core.ContextWithActor(r.Context(), actor)))
		})
	}
}

// Identity records the X-User-ID header as the caller unless an API key
// already named one.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if core.ActorFromContext(ctx) == core.AnonymousActor {
			if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
				ctx = core.ContextWithActor(ctx, id)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// lookupAPIKey finds the actor for key. Every configured key is compared in
// constant time so the timing does not reveal which one matched.
func lookupAPIKey(key string, keys map[string]string) (string, bool) {
	var actor string
	found := 0
	for k, a := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			actor = a
			found = 1
		}
	}
	if found == 0 {
		return "", false
	}
	if actor == "" {
		actor = "api-key"
	}
	return actor, true
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","message":"` + msg + `","code":"` + code + `"}`))
}

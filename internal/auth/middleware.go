package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rolojard/animatronic-kernel/internal/api"
	"github.com/rolojard/animatronic-kernel/internal/apperrors"
	"github.com/rolojard/animatronic-kernel/internal/config"
)

var publicPrefixes = []string{
	"/v1/health",
	"/v1/auth/login",
	// Telemetry is read-only display data (joint angles, severity); it
	// carries no control capability, so it doesn't need the bearer
	// token a browser WebSocket handshake can't easily attach anyway.
	"/v1/telemetry",
}

// Middleware validates the operator bearer token for every protected
// route. Emergency stop is deliberately NOT exempted: an unauthenticated
// caller must not be able to halt or, worse, impersonate clearing a
// real emergency.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("missing or malformed Authorization header"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("missing bearer token"))
				return
			}

			op, err := VerifyToken(cfg, token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("token has expired"))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
		})
	}
}

func isPublicRoute(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

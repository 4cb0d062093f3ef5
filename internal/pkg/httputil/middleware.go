package httputil

import (
	"context"
	"net/http"
	"strings"

	"github.com/bissquit/status-dashboard/internal/pkg/ctxlog"
)

// CORSMiddleware allows read access to the API from the listed origins.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (originsSet[origin] || originsSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const usernameKey contextKey = "username"

// TokenValidator validates bearer tokens and returns the caller name.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (username string, err error)
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				ErrorWithReason(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				ErrorWithReason(w, http.StatusUnauthorized, "unauthorized", "invalid authorization header format")
				return
			}

			username, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				ErrorWithReason(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := ctxlog.With(WithUsername(r.Context(), username), "user", username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUsername stores the authenticated caller in the context.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// GetUsername extracts the authenticated caller from context.
func GetUsername(ctx context.Context) string {
	if name, ok := ctx.Value(usernameKey).(string); ok {
		return name
	}
	return ""
}

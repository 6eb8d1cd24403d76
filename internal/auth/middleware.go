package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/platform/response"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

type contextKey struct{}

// ContextWithUserID returns a copy of ctx carrying userID.
func ContextWithUserID(ctx context.Context, userID vitals.UserID) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// GetUserIDFromContext returns the user put on the context by Middleware.
func GetUserIDFromContext(ctx context.Context) (vitals.UserID, bool) {
	userID, ok := ctx.Value(contextKey{}).(vitals.UserID)
	return userID, ok && userID != ""
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// verified user on the request context.
func Middleware(authenticator vitals.Authenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	mwLogger := logger.With().Str("component", "AuthMiddleware").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				response.WriteJSONError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			userID, err := authenticator.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, vitals.ErrAuthUnavailable) {
					mwLogger.Warn().Err(err).Msg("Authenticator unavailable.")
					response.WriteJSONError(w, http.StatusServiceUnavailable, "Authentication unavailable")
					return
				}
				mwLogger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token.")
				response.WriteJSONError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

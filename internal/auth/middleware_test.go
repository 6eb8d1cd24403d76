package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/internal/test/fakes"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

func TestMiddleware(t *testing.T) {
	authenticator := fakes.NewStaticAuthenticator(map[string]vitals.UserID{"good": "user-a"})

	var seen vitals.UserID
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := auth.Middleware(authenticator, zerolog.Nop())(next)

	testCases := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   vitals.UserID
	}{
		{"valid token", "Bearer good", http.StatusNoContent, "user-a"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, ""},
		{"unknown token", "Bearer bad", http.StatusUnauthorized, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/vitals/latest", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			assert.Equal(t, tc.wantUser, seen)
		})
	}
}

func TestMiddleware_Unavailable(t *testing.T) {
	authenticator := fakes.NewStaticAuthenticator(nil)
	authenticator.FailWith(vitals.ErrAuthUnavailable)
	handler := auth.Middleware(authenticator, zerolog.Nop())(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/vitals/latest", nil)
	req.Header.Set("Authorization", "Bearer any")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

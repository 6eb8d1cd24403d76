// Package auth provides the bearer-token Authenticators and the HTTP
// middleware that puts the verified user on the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

const (
	defaultRefreshInterval = 15 * time.Minute
	defaultSkew            = 30 * time.Second
)

// JWKSConfig configures a JWKSAuthenticator.
type JWKSConfig struct {
	URL             string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
	AcceptableSkew  time.Duration
}

// JWKSAuthenticator verifies RS256/ES256 tokens against a remote JWK set that
// is fetched on demand and refreshed in the background.
type JWKSAuthenticator struct {
	cfg    JWKSConfig
	cache  *jwk.Cache
	logger zerolog.Logger
}

// NewJWKSAuthenticator registers the key set URL and attempts a first fetch.
// A failed first fetch is logged, not returned; Verify retries it.
func NewJWKSAuthenticator(ctx context.Context, cfg JWKSConfig, logger zerolog.Logger) (*JWKSAuthenticator, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jwks url cannot be empty")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.AcceptableSkew <= 0 {
		cfg.AcceptableSkew = defaultSkew
	}
	authLogger := logger.With().Str("component", "JWKSAuthenticator").Logger()

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.URL, jwk.WithMinRefreshInterval(cfg.RefreshInterval)); err != nil {
		return nil, fmt.Errorf("failed to register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.URL); err != nil {
		authLogger.Warn().Err(err).Str("url", cfg.URL).Msg("Initial JWKS fetch failed, will retry on demand.")
	}

	return &JWKSAuthenticator{cfg: cfg, cache: cache, logger: authLogger}, nil
}

// Verify implements vitals.Authenticator. The user is the token subject.
func (a *JWKSAuthenticator) Verify(ctx context.Context, token string) (vitals.UserID, error) {
	keySet, err := a.cache.Get(ctx, a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", vitals.ErrAuthUnavailable, err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keySet, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(a.cfg.AcceptableSkew),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	parsed, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return "", fmt.Errorf("%w: %v", vitals.ErrExpiredToken, err)
		}
		return "", fmt.Errorf("%w: %v", vitals.ErrInvalidToken, err)
	}
	if parsed.Subject() == "" {
		return "", fmt.Errorf("%w: token has no subject", vitals.ErrInvalidToken)
	}
	return vitals.UserID(parsed.Subject()), nil
}

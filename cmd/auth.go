package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tinywideclouds/go-vitals-service/internal/auth"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
	"github.com/tinywideclouds/go-vitals-service/vitalsservice/config"
)

// NewAuthenticator builds the bearer-token verifier selected by auth.mode.
// The same verifier serves the HTTP API and the WebSocket handshake.
func NewAuthenticator(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (vitals.Authenticator, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeJWKS:
		logger.Info().Str("jwks_url", cfg.Auth.JWKSURL).Msg("Using JWKS authentication.")
		return auth.NewJWKSAuthenticator(ctx, auth.JWKSConfig{
			URL:      cfg.Auth.JWKSURL,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		}, logger)
	case config.AuthModeHMAC:
		logger.Info().Msg("Using HMAC authentication.")
		return auth.NewHMACAuthenticator(auth.HMACConfig{
			Secret:   cfg.Auth.HMACSecret,
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
		})
	default:
		return nil, fmt.Errorf("invalid auth mode: %s", cfg.Auth.Mode)
	}
}

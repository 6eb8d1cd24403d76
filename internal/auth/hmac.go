package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tinywideclouds/go-vitals-service/pkg/vitals"
)

// HMACConfig configures an HMACAuthenticator.
type HMACConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// HMACAuthenticator verifies HS256 tokens signed with a shared secret.
type HMACAuthenticator struct {
	secret []byte
	cfg    HMACConfig
	opts   []jwt.ParserOption
}

func NewHMACAuthenticator(cfg HMACConfig) (*HMACAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("hmac secret cannot be empty")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(defaultSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &HMACAuthenticator{secret: []byte(cfg.Secret), cfg: cfg, opts: opts}, nil
}

// Verify implements vitals.Authenticator. The user is the token subject.
func (a *HMACAuthenticator) Verify(_ context.Context, token string) (vitals.UserID, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %v", vitals.ErrExpiredToken, err)
		}
		return "", fmt.Errorf("%w: %v", vitals.ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", vitals.ErrInvalidToken)
	}
	return vitals.UserID(claims.Subject), nil
}

// Issue signs a token for userID that Verify accepts until ttl has passed.
// It backs the local-mode --dev-token flag.
func (a *HMACAuthenticator) Issue(userID vitals.UserID, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id cannot be empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(userID),
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

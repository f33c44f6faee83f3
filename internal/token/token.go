// Package token issues and verifies signed access tokens for authenticated
// users.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/user"
)

// ErrInvalidToken indicates a token that failed signature or claim checks.
var ErrInvalidToken = apperrors.New(apperrors.CodeAuthenticationFailed, "invalid token")

// Claims carries the verified identity extracted from a token.
type Claims struct {
	UserID    string
	Username  string
	SessionID string
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Username  string `json:"username,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

// Issuer signs and verifies HMAC tokens bound to a web session.
type Issuer struct {
	config Config
	clock  func() time.Time
}

// NewIssuer builds a token issuer from validated configuration.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.SigningKey) < minSigningKeySize {
		return nil, fmt.Errorf("token signing key must be at least %d bytes", minSigningKeySize)
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Issuer{config: cfg, clock: time.Now}, nil
}

// NewIssuerFromEnv builds a token issuer from the environment.
func NewIssuerFromEnv() (*Issuer, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewIssuer(cfg)
}

// TTL reports how long issued tokens stay valid.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// SessionTTL reports how long web sessions backing tokens stay valid.
func (i *Issuer) SessionTTL() time.Duration {
	return i.config.SessionTTL
}

// Issue signs a token for a user bound to a web session.
func (i *Issuer) Issue(u user.User, sessionID string) (string, error) {
	if strings.TrimSpace(u.ID) == "" {
		return "", errors.New("user id is required")
	}
	now := i.clock().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.config.Issuer,
			Audience:  jwt.ClaimStrings{i.config.Audience},
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.TTL)),
		},
		Username:  u.Username,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.config.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token's signature and registered claims.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return i.config.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithAudience(i.config.Audience),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, apperrors.Wrap(apperrors.CodeAuthenticationFailed, "invalid token", err)
	}
	if claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	result := Claims{
		UserID:    claims.Subject,
		Username:  claims.Username,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

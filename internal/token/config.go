package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warden-auth/warden/internal/platform/config"
)

const minSigningKeySize = 32

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	Issuer     string        `env:"WARDEN_TOKEN_ISSUER"      envDefault:"warden"`
	Audience   string        `env:"WARDEN_TOKEN_AUDIENCE"    envDefault:"warden"`
	SigningKey string        `env:"WARDEN_TOKEN_SIGNING_KEY"`
	TTL        time.Duration `env:"WARDEN_TOKEN_TTL"         envDefault:"1h"`
	SessionTTL time.Duration `env:"WARDEN_SESSION_TTL"       envDefault:"720h"`
}

// Config holds validated token signing settings.
type Config struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	TTL        time.Duration
	SessionTTL time.Duration
}

// LoadConfigFromEnv loads and validates token configuration. The signing key
// is required; tokens signed with an ad-hoc key would not survive restarts.
func LoadConfigFromEnv() (Config, error) {
	var raw configEnv
	if err := config.ParseEnv(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	signingKey := strings.TrimSpace(raw.SigningKey)
	if issuer == "" {
		return Config{}, errors.New("WARDEN_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, errors.New("WARDEN_TOKEN_AUDIENCE is required")
	}
	if signingKey == "" {
		return Config{}, errors.New("WARDEN_TOKEN_SIGNING_KEY is required")
	}
	keyBytes, err := decodeBase64(signingKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode token signing key: %w", err)
	}
	if len(keyBytes) < minSigningKeySize {
		return Config{}, fmt.Errorf("token signing key must be at least %d bytes", minSigningKeySize)
	}
	if raw.TTL <= 0 {
		return Config{}, errors.New("token ttl must be positive")
	}
	if raw.SessionTTL <= 0 {
		return Config{}, errors.New("session ttl must be positive")
	}

	return Config{
		Issuer:     issuer,
		Audience:   audience,
		SigningKey: keyBytes,
		TTL:        raw.TTL,
		SessionTTL: raw.SessionTTL,
	}, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

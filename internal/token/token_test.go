package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	apperrors "github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/user"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Config{
		Issuer:     "warden-test",
		Audience:   "warden-test",
		SigningKey: testKey(),
		TTL:        time.Hour,
		SessionTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func TestIssueAndVerify(t *testing.T) {
	issuer := testIssuer(t)
	fixed := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	issuer.clock = func() time.Time { return fixed }

	signed, err := issuer.Issue(user.User{ID: "user-1", Username: "alpha"}, "session-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if strings.Count(signed, ".") != 2 {
		t.Fatalf("expected compact jwt, got %q", signed)
	}

	claims, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("user id = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Username != "alpha" {
		t.Fatalf("username = %q, want %q", claims.Username, "alpha")
	}
	if claims.SessionID != "session-1" {
		t.Fatalf("session id = %q, want %q", claims.SessionID, "session-1")
	}
	if !claims.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("expires at = %v, want %v", claims.ExpiresAt, fixed.Add(time.Hour))
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	issuer := testIssuer(t)
	issued := time.Date(2026, 2, 12, 12, 0, 0, 0, time.UTC)
	issuer.clock = func() time.Time { return issued }

	signed, err := issuer.Issue(user.User{ID: "user-1"}, "session-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	issuer.clock = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = issuer.Verify(signed)
	if err == nil {
		t.Fatalf("expected error for expired token")
	}
	if got := apperrors.GetCode(err); got != apperrors.CodeAuthenticationFailed {
		t.Fatalf("error code = %q, want %q", got, apperrors.CodeAuthenticationFailed)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	issuer := testIssuer(t)
	signed, err := issuer.Issue(user.User{ID: "user-1"}, "session-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	other := testIssuer(t)
	other.config.SigningKey = []byte("ffffffffffffffffffffffffffffffff")
	if _, err := other.Verify(signed); err == nil {
		t.Fatalf("expected error for wrong signing key")
	}
}

func TestVerifyWrongIssuer(t *testing.T) {
	issuer := testIssuer(t)
	signed, err := issuer.Issue(user.User{ID: "user-1"}, "session-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	other := testIssuer(t)
	other.config.Issuer = "someone-else"
	if _, err := other.Verify(signed); err == nil {
		t.Fatalf("expected error for wrong issuer")
	}
}

func TestVerifyGarbage(t *testing.T) {
	issuer := testIssuer(t)
	for _, value := range []string{"", "   ", "not-a-token", "a.b.c"} {
		if _, err := issuer.Verify(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	issuer := testIssuer(t)
	if _, err := issuer.Issue(user.User{}, "session-1"); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}

func TestNewIssuerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "short key", cfg: Config{Issuer: "i", Audience: "a", SigningKey: []byte("short"), TTL: time.Hour}},
		{name: "missing issuer", cfg: Config{Audience: "a", SigningKey: testKey(), TTL: time.Hour}},
		{name: "missing audience", cfg: Config{Issuer: "i", SigningKey: testKey(), TTL: time.Hour}},
		{name: "zero ttl", cfg: Config{Issuer: "i", Audience: "a", SigningKey: testKey()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewIssuer(tc.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("WARDEN_TOKEN_ISSUER", "warden-test")
	t.Setenv("WARDEN_TOKEN_AUDIENCE", "clients")
	t.Setenv("WARDEN_TOKEN_SIGNING_KEY", base64.StdEncoding.EncodeToString(testKey()))
	t.Setenv("WARDEN_TOKEN_TTL", "30m")
	t.Setenv("WARDEN_SESSION_TTL", "48h")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Issuer != "warden-test" || cfg.Audience != "clients" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.TTL != 30*time.Minute || cfg.SessionTTL != 48*time.Hour {
		t.Fatalf("unexpected ttls %+v", cfg)
	}
	if string(cfg.SigningKey) != string(testKey()) {
		t.Fatalf("unexpected signing key")
	}
}

func TestLoadConfigFromEnvMissingKey(t *testing.T) {
	t.Setenv("WARDEN_TOKEN_SIGNING_KEY", "")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected error for missing signing key")
	}
}

func TestLoadConfigFromEnvBadKey(t *testing.T) {
	t.Setenv("WARDEN_TOKEN_SIGNING_KEY", "%%%not-base64%%%")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected error for undecodable signing key")
	}

	t.Setenv("WARDEN_TOKEN_SIGNING_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected error for short signing key")
	}
}

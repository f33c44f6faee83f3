package config

import (
	"testing"
	"time"
)

func TestParseEnv(t *testing.T) {
	type target struct {
		Addr string        `env:"TEST_CONFIG_ADDR" envDefault:"localhost:9999"`
		TTL  time.Duration `env:"TEST_CONFIG_TTL"  envDefault:"5m"`
	}

	var cfg target
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "localhost:9999" {
		t.Fatalf("addr = %q, want default", cfg.Addr)
	}
	if cfg.TTL != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", cfg.TTL)
	}

	t.Setenv("TEST_CONFIG_ADDR", "example:1234")
	t.Setenv("TEST_CONFIG_TTL", "30s")
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "example:1234" {
		t.Fatalf("addr = %q, want env value", cfg.Addr)
	}
	if cfg.TTL != 30*time.Second {
		t.Fatalf("ttl = %v, want 30s", cfg.TTL)
	}
}

func TestParseEnvInvalidValue(t *testing.T) {
	type target struct {
		TTL time.Duration `env:"TEST_CONFIG_BAD_TTL"`
	}

	t.Setenv("TEST_CONFIG_BAD_TTL", "not-a-duration")
	var cfg target
	if err := ParseEnv(&cfg); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

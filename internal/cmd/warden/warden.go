// Package warden parses command configuration for the warden server binary.
package warden

import (
	"context"
	"flag"
	"strings"

	"github.com/warden-auth/warden/internal/app"
)

// Config holds warden command configuration.
type Config struct {
	HTTPAddr string
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Environment values seed the
// defaults; flags win.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	cfg := Config{
		HTTPAddr: envOrDefault(lookup, "WARDEN_HTTP_ADDR", ":8080"),
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The warden HTTP server address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the warden server.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, cfg.HTTPAddr)
}

func envOrDefault(lookup EnvLookup, key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	value, ok := lookup(key)
	if !ok {
		return fallback
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

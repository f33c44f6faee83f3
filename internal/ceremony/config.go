package ceremony

import (
	"time"

	"github.com/warden-auth/warden/internal/platform/config"
)

// Kind describes the WebAuthn ceremony purpose.
type Kind string

const (
	KindRegistration Kind = "registration"
	KindLogin        Kind = "login"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"WARDEN_RP_DISPLAY_NAME"`
	RPID          string        `env:"WARDEN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"WARDEN_RP_ORIGINS"      envSeparator:","`
	CeremonyTTL   time.Duration `env:"WARDEN_CEREMONY_TTL"    envDefault:"5m"`
}

// LoadConfigFromEnv returns relying party configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{
			RPDisplayName: "Warden",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			CeremonyTTL:   5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Warden"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	if cfg.CeremonyTTL <= 0 {
		cfg.CeremonyTTL = 5 * time.Minute
	}
	return cfg
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the escrowd service configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	LogLevel      string `toml:"LogLevel"`

	Database  Database  `toml:"Database"`
	Auth      Auth      `toml:"Auth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Webhooks  Webhooks  `toml:"Webhooks"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// Database selects the persistence backend.
type Database struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Auth configures bearer-token verification. The HMAC secret may be supplied
// via SecretEnv to keep it out of the config file.
type Auth struct {
	HMACSecret string `toml:"HMACSecret"`
	SecretEnv  string `toml:"SecretEnv"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// RateLimit bounds per-caller request throughput.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// Webhooks configures outbound event delivery.
type Webhooks struct {
	JournalPath string            `toml:"JournalPath"`
	Endpoints   []WebhookEndpoint `toml:"Endpoints"`
}

// WebhookEndpoint is a single subscriber.
type WebhookEndpoint struct {
	Name   string `toml:"Name"`
	URL    string `toml:"URL"`
	Secret string `toml:"Secret"`
}

// Telemetry configures the OTLP trace exporter. An empty endpoint disables
// export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s contains unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveAuthSecret returns the token secret, preferring the environment
// variable named by SecretEnv over the inline value.
func (c *Config) ResolveAuthSecret() string {
	if c.Auth.SecretEnv != "" {
		if secret := strings.TrimSpace(os.Getenv(c.Auth.SecretEnv)); secret != "" {
			return secret
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "development"
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Database.Driver) == "" {
		cfg.Database.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = "file:escrow.db"
	}
	if strings.TrimSpace(cfg.Auth.SecretEnv) == "" && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		cfg.Auth.SecretEnv = "ESCROW_AUTH_SECRET"
	}
	if strings.TrimSpace(cfg.Webhooks.JournalPath) == "" {
		cfg.Webhooks.JournalPath = "webhooks.db"
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	for i, endpoint := range cfg.Webhooks.Endpoints {
		if strings.TrimSpace(endpoint.URL) == "" {
			return fmt.Errorf("webhook endpoint %d is missing a URL", i)
		}
		if strings.TrimSpace(endpoint.Secret) == "" {
			return errors.New("webhook endpoints require a signing secret")
		}
	}
	return nil
}

// createDefault writes a default configuration file and returns it.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

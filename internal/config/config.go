package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"AGENTPAY_HOST"`
	Port         int           `yaml:"port" env:"AGENTPAY_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// RateLimitConfig bounds submissions. Default applies per client address,
// PerPayer per paying agent on payment and escrow creation. Zero disables.
type RateLimitConfig struct {
	Default  int           `yaml:"default" env:"AGENTPAY_RATE_LIMIT_DEFAULT"`
	PerPayer int           `yaml:"per_payer" env:"AGENTPAY_RATE_LIMIT_PER_PAYER"`
	Window   time.Duration `yaml:"window"`
}

// AuditConfig controls export of ledger entries to a JSON lines file.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled" env:"AGENTPAY_AUDIT_ENABLED"`
	Path          string        `yaml:"path" env:"AGENTPAY_AUDIT_PATH"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LedgerConfig struct {
	Currency string `yaml:"currency" env:"AGENTPAY_CURRENCY"`
	// DemoSeed is the balance each demo agent is funded with.
	DemoSeed int64 `yaml:"demo_seed"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"AGENTPAY_LOG_LEVEL"`
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Default:  600,
			PerPayer: 60,
			Window:   time.Minute,
		},
		Audit: AuditConfig{
			Enabled:       false,
			Path:          "agentpay-audit.jsonl",
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			Currency: "USD",
			DemoSeed: 10000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func expandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

// applyEnvOverrides sets fields tagged with env from the environment. Unset
// variables leave the file or default value in place.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server.write_timeout must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.RateLimit.Default < 0 || c.RateLimit.PerPayer < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.Path) == "" {
			errs = append(errs, errors.New("audit.path is required when audit is enabled"))
		}
		if c.Audit.BatchSize <= 0 {
			errs = append(errs, errors.New("audit.batch_size must be positive"))
		}
		if c.Audit.FlushInterval <= 0 {
			errs = append(errs, errors.New("audit.flush_interval must be positive"))
		}
	}
	if c.Ledger.DemoSeed < 0 {
		errs = append(errs, errors.New("ledger.demo_seed must not be negative"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/warp/recurrence-engine/generic"
	"github.com/warp/recurrence-engine/logging"
)

// EnvPrefix prefixes every environment override, e.g. RECUR_PORT.
const EnvPrefix = "RECUR_"

const (
	DefaultPort        = 8080
	DefaultDBPath      = "recurrence.db"
	DefaultTriggerSpec = "@hourly"
)

// TriggerConfig controls the background due-date sweep.
type TriggerConfig struct {
	// Spec is a five-field cron expression or a descriptor such as "@hourly".
	Spec       string `yaml:"spec" env:"SPEC"`
	Enabled    bool   `yaml:"enabled" env:"ENABLED"`
	RunOnStart bool   `yaml:"run_on_start" env:"RUN_ON_START"`
}

// Config is the server configuration. Sources apply in order: defaults,
// YAML file, environment, then command-line flags in main.
type Config struct {
	Port   int    `yaml:"port" env:"PORT"`
	DBPath string `yaml:"db_path" env:"DB"`

	Log     logging.Config `yaml:"log" envPrefix:"LOG_"`
	Trigger TriggerConfig  `yaml:"trigger" envPrefix:"TRIGGER_"`

	// MaterializeOnRead freezes past virtual occurrences when a list reaches them.
	MaterializeOnRead bool `yaml:"materialize_on_read" env:"MATERIALIZE_ON_READ"`

	// AllowedOrigins for CORS; empty keeps the router defaults.
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`

	// MaxOccurrences caps a single expansion.
	MaxOccurrences int `yaml:"max_occurrences" env:"MAX_OCCURRENCES"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:   DefaultPort,
		DBPath: DefaultDBPath,
		Log:    logging.Config{Level: "info", Format: logging.FormatJSON},
		Trigger: TriggerConfig{
			Spec:    DefaultTriggerSpec,
			Enabled: true,
		},
		MaxOccurrences: generic.DefaultMaxOccurrences,
	}
}

// Normalize fills zero values left by a partial file.
func (c *Config) Normalize() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatJSON
	}
	if c.Trigger.Spec == "" {
		c.Trigger.Spec = DefaultTriggerSpec
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = generic.DefaultMaxOccurrences
	}
}

// Validate rejects values Normalize cannot repair.
func (c *Config) Validate() error {
	if c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

// Load reads the YAML file at path, applies RECUR_* environment overrides,
// then normalizes and validates. An empty path or a missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

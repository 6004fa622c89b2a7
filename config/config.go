// Package config loads and validates the rig configuration: box identity,
// serial port preference, limit policy, output destination, and logging
// options. Sources are a YAML file plus REACHER_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/monitor"
)

// Config is the complete rig configuration.
type Config struct {
	Box     BoxConfig     `yaml:"box"`
	Serial  SerialConfig  `yaml:"serial"`
	Limit   LimitConfig   `yaml:"limit"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
}

// BoxConfig identifies the operant box this engine drives.
type BoxConfig struct {
	Name string `yaml:"name"`
}

// SerialConfig holds link parameters. Port may be left empty and chosen
// at runtime from the enumerated list.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// LimitConfig is the YAML form of the auto-stop policy.
type LimitConfig struct {
	Kind             string `yaml:"kind"` // none, time, infusion, both
	TimeLimitSeconds int    `yaml:"time_limit_seconds"`
	InfusionLimit    int    `yaml:"infusion_limit"`
	StopDelaySeconds int    `yaml:"stop_delay_seconds"`
}

// OutputConfig names where the export collaborator writes session data.
type OutputConfig struct {
	Filename    string `yaml:"filename"`
	Destination string `yaml:"destination"`
}

// LoggingConfig selects handler format and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Box:    BoxConfig{Name: "box-1"},
		Serial: SerialConfig{BaudRate: 115200},
		Limit:  LimitConfig{Kind: "none"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path, applies environment overrides, and
// validates. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments pin fields without
// editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REACHER_BOX_NAME"); v != "" {
		cfg.Box.Name = v
	}
	if v := os.Getenv("REACHER_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("REACHER_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("REACHER_LIMIT_KIND"); v != "" {
		cfg.Limit.Kind = v
	}
	if v := os.Getenv("REACHER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REACHER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for use.
func (c *Config) Validate() error {
	if c.Box.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "box.name is required")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "serial.baud_rate must be positive")
	}

	if _, err := c.LimitPolicy(); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown logging.level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("unknown logging.format %q", c.Logging.Format))
	}
	return nil
}

// LimitPolicy converts the YAML limit block into a validated policy.
func (c *Config) LimitPolicy() (monitor.Policy, error) {
	kind, err := monitor.ParseKind(c.Limit.Kind)
	if err != nil {
		return monitor.Policy{}, err
	}
	p := monitor.Policy{
		Kind:          kind,
		TimeLimit:     time.Duration(c.Limit.TimeLimitSeconds) * time.Second,
		InfusionLimit: c.Limit.InfusionLimit,
		StopDelay:     time.Duration(c.Limit.StopDelaySeconds) * time.Second,
	}
	if err := p.Validate(); err != nil {
		return monitor.Policy{}, err
	}
	return p, nil
}

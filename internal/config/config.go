// Package config loads dbchanges settings from flags and DBCHANGES_* environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds tool-level settings. Per-project engine settings live in each
// project's gostgrator.json.
type Config struct {
	// Root is the migrations root holding one directory per project.
	Root string `mapstructure:"root"`
	// Strict makes failures visible in the exit status. Off by default so
	// scripts relying on an always-zero exit keep working.
	Strict bool `mapstructure:"strict"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `mapstructure:"log-level"`
	// Timeout bounds a whole invocation.
	Timeout time.Duration `mapstructure:"timeout"`
	// NoColor disables coloured output.
	NoColor bool `mapstructure:"no-color"`
}

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "DBCHANGES"

// RegisterFlags adds the persistent flags backing Config to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("root", "db-changes", "Migrations root directory holding one directory per project")
	fs.Bool("strict", false, "Exit with a non-zero status when any operation fails")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.Duration("timeout", 10*time.Minute, "Deadline for the whole invocation")
	fs.Bool("no-color", false, "Disable coloured output")
}

// Load builds Config from flags and the environment. Explicitly set flags win
// over DBCHANGES_* variables, which win over flag defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	v.SetDefault("root", "db-changes")
	v.SetDefault("log-level", "info")
	v.SetDefault("timeout", 10*time.Minute)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("root must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Package config loads, defaults, and validates the hyperbot configuration.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "github.com/edgard/hyperbot/internal/errors"
)

// EnvPrefix is the prefix for configuration environment variables.
const EnvPrefix = "HYPERBOT"

// Load loads and validates configuration from:
// 1. Default values
// 2. the YAML file at path (optional; a missing file is not an error)
// 3. HYPERBOT_* environment variables
//
// Any failure, including a missing master secret, is returned as a
// configuration error and must prevent the engine from starting.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, apperrors.NewConfigError("failed to read config file", err)
			}
			slog.Info("Configuration file not found, using defaults and environment", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration with struct tags.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.MasterSecret) == "" {
		return apperrors.NewConfigError("security.master_secret is not set", nil)
	}
	if err := validator.New().Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	return nil
}

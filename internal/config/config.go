// Package config loads process configuration for the server and the agent.
//
// Values are resolved, lowest precedence first, from built-in defaults, an
// optional YAML file, environment variables and command line flags. A key
// such as "database-dsn" or "smtp.host" is read from DATABASE_DSN or
// SMTP_HOST respectively.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Schera-ole/vmwatch/internal/cache"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/notify"
)

// Load resolves a configuration of type T. The flags of cmd must be named
// after the keys they set. An unreadable or malformed file is a
// configuration error.
func Load[T any](cmd *cobra.Command, defaults map[string]any, file string) (T, error) {
	var c T
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return c, fmt.Errorf("%w: reading %s: %v", internalerrors.ErrConfiguration, file, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return c, fmt.Errorf("%w: binding flags: %v", internalerrors.ErrConfiguration, err)
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("%w: %v", internalerrors.ErrConfiguration, err)
	}
	return c, nil
}

// NewLogger builds the production JSON logger at the named level.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("%w: log-level: %v", internalerrors.ErrConfiguration, err)
		}
		lvl = parsed
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: building logger: %v", internalerrors.ErrConfiguration, err)
	}
	return logger.Sugar(), nil
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	DatabaseDSN    string        `mapstructure:"database-dsn"`
	MigrationsPath string        `mapstructure:"migrations-path"`
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
	LogLevel       string        `mapstructure:"log-level"`

	// EncryptionKey is the base64 shared audit and command key
	EncryptionKey string `mapstructure:"encryption-key"`

	JWTSecret string        `mapstructure:"jwt-secret"`
	TokenTTL  time.Duration `mapstructure:"token-ttl"`

	// AuthRateLimit bounds credential exchanges per second per client
	AuthRateLimit float64 `mapstructure:"auth-rate-limit"`
	AuthBurst     int     `mapstructure:"auth-burst"`

	DefaultAdminUsername string `mapstructure:"default-admin-username"`
	DefaultAdminPassword string `mapstructure:"default-admin-password"`

	AlertRecipient string            `mapstructure:"alert-recipient"`
	NotifyMinimum  string            `mapstructure:"notify-minimum"`
	AlertFile      string            `mapstructure:"alert-file"`
	AlertURL       string            `mapstructure:"alert-url"`
	SMTP           notify.SMTPConfig `mapstructure:"smtp"`

	Caches map[cache.Name]cache.Settings `mapstructure:"caches"`
}

// ServerDefaults are the built-in server settings.
func ServerDefaults() map[string]any {
	return map[string]any{
		"address":                "localhost:8080",
		"database-dsn":           "",
		"migrations-path":        "migrations",
		"request-timeout":        15 * time.Second,
		"log-level":              "info",
		"encryption-key":         "",
		"jwt-secret":             "",
		"token-ttl":              time.Hour,
		"auth-rate-limit":        5.0,
		"auth-burst":             10,
		"default-admin-username": "",
		"default-admin-password": "",
		"alert-recipient":        "",
		"notify-minimum":         models.ImportanceMedium.String(),
		"alert-file":             "",
		"alert-url":              "",
		"smtp.host":              "",
		"smtp.port":              587,
		"smtp.username":          "",
		"smtp.password":          "",
		"smtp.from":              "",
	}
}

// Validate checks the settings that have no usable default.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("encryption-key is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required"))
	}
	if _, err := models.ParseImportance(c.NotifyMinimum); err != nil {
		errs = append(errs, fmt.Errorf("notify-minimum: %v", err))
	}
	if c.AuthRateLimit < 0 {
		errs = append(errs, errors.New("auth-rate-limit must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrConfiguration, err)
	}
	return nil
}

// MinimumImportance is the parsed notification threshold.
func (c ServerConfig) MinimumImportance() models.Importance {
	imp, err := models.ParseImportance(c.NotifyMinimum)
	if err != nil {
		return models.ImportanceMedium
	}
	return imp
}

// CacheSettings returns the cache sizes with file overrides merged onto the
// defaults. Names match case-insensitively and unset fields keep their
// default.
func (c ServerConfig) CacheSettings() map[cache.Name]cache.Settings {
	settings := cache.DefaultSettings()
	for name, override := range c.Caches {
		for known, s := range settings {
			if !strings.EqualFold(string(name), string(known)) {
				continue
			}
			if override.InitialCapacity > 0 {
				s.InitialCapacity = override.InitialCapacity
			}
			if override.MaximumSize > 0 {
				s.MaximumSize = override.MaximumSize
			}
			if override.ExpireAfterAccess > 0 {
				s.ExpireAfterAccess = override.ExpireAfterAccess
			}
			settings[known] = s
		}
	}
	return settings
}

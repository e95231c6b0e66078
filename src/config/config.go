// Package config loads cipherpad's process configuration (C7): database
// path, listen address, log level, and unlock rate-limit parameters.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the command surface and session controller
// need at startup.
type Config struct {
	DBPath            string
	ListenAddr        string
	LogLevel          string
	UnlockMaxAttempts int
	UnlockLockout     time.Duration
}

// LoadConfig reads CIPHERPAD_* environment variables via Viper, applies
// defaults, and fails fast if DBPath is unset — there is no sensible
// default store location to fall back to.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CIPHERPAD")
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8787")
	v.SetDefault("log_level", "info")
	v.SetDefault("unlock_max_attempts", 5)
	v.SetDefault("unlock_lockout", "5m")

	dbPath := v.GetString("db_path")
	if dbPath == "" {
		return nil, fmt.Errorf("CRITICAL: CIPHERPAD_DB_PATH is required")
	}

	lockout, err := time.ParseDuration(v.GetString("unlock_lockout"))
	if err != nil {
		return nil, fmt.Errorf("invalid CIPHERPAD_UNLOCK_LOCKOUT: %w", err)
	}

	maxAttempts := v.GetInt("unlock_max_attempts")
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("CIPHERPAD_UNLOCK_MAX_ATTEMPTS must be positive")
	}

	return &Config{
		DBPath:            dbPath,
		ListenAddr:        v.GetString("listen_addr"),
		LogLevel:          v.GetString("log_level"),
		UnlockMaxAttempts: maxAttempts,
		UnlockLockout:     lockout,
	}, nil
}

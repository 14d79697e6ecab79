package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("HeartbeatTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{HeartbeatTimeoutSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.HeartbeatTimeout())
	})

	t.Run("HeartbeatCheckInterval converts seconds to duration", func(t *testing.T) {
		cfg := &Config{HeartbeatCheckSeconds: 30}
		assert.Equal(t, 30*time.Second, cfg.HeartbeatCheckInterval())
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                      os.Getenv("PORT"),
		"DATABASE_URL":              os.Getenv("DATABASE_URL"),
		"REDIS_URL":                 os.Getenv("REDIS_URL"),
		"HEARTBEAT_TIMEOUT_SECONDS": os.Getenv("HEARTBEAT_TIMEOUT_SECONDS"),
		"HEARTBEAT_CHECK_SECONDS":   os.Getenv("HEARTBEAT_CHECK_SECONDS"),
		"LOG_LEVEL":                 os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Unsetenv("PORT")
		os.Unsetenv("HEARTBEAT_TIMEOUT_SECONDS")
		os.Unsetenv("HEARTBEAT_CHECK_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
		assert.Equal(t, 300, cfg.HeartbeatTimeoutSeconds)
		assert.Equal(t, 30, cfg.HeartbeatCheckSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("PORT", "3000")
		os.Setenv("HEARTBEAT_TIMEOUT_SECONDS", "120")
		os.Setenv("LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, 120, cfg.HeartbeatTimeoutSeconds)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("fails without required database url", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: "http",
			HTTPPort:  8080,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Executor: ExecutorConfig{
			TimeoutSec: 30,
			MaxWorkers: 4,
		},
		Cache: CacheConfig{
			MaxEntries: 10,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		err := validConfig().validate()
		require.NoError(t, err)
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("InvalidLoggingMode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Mode = "invalid_mode"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid logging.mode")
	})

	t.Run("InvalidExecutorTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Executor.TimeoutSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "executor.timeout_sec must be positive")
	})

	t.Run("InvalidExecutorWorkers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Executor.MaxWorkers = -1

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "executor.max_workers must be positive")
	})

	t.Run("InvalidCacheEntries", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.MaxEntries = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.max_entries must be positive")
	})
}

func TestGetTimeout(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, float64(30), cfg.GetTimeout().Seconds())
}

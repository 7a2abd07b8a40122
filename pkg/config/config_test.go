package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/flagkit/pkg/config"
)

type cacheConfig struct {
	TTL     time.Duration `env:"TEST_FLAG_CACHE_TTL" envDefault:"5m"`
	Enabled bool          `env:"TEST_FLAG_CACHE_ENABLED" envDefault:"true"`
}

type requiredConfig struct {
	DSN string `env:"TEST_REQUIRED_DSN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("from environment", func(t *testing.T) {
		t.Setenv("TEST_FLAG_CACHE_TTL", "90s")
		t.Setenv("TEST_FLAG_CACHE_ENABLED", "false")

		var cfg cacheConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 90*time.Second, cfg.TTL)
		assert.False(t, cfg.Enabled)
	})

	t.Run("defaults", func(t *testing.T) {
		var cfg cacheConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 5*time.Minute, cfg.TTL)
		assert.True(t, cfg.Enabled)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil target", func(t *testing.T) {
		err := config.Load[cacheConfig](nil)
		assert.ErrorIs(t, err, config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})

	t.Run("succeeds with defaults", func(t *testing.T) {
		assert.NotPanics(t, func() {
			var cfg cacheConfig
			config.MustLoad(&cfg)
		})
	})
}

package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Predefined errors for the config package.
var (
	// ErrNilPointer indicates a nil target was passed to Load.
	ErrNilPointer = errors.New("config target cannot be nil")

	// ErrParsingConfig indicates environment variables could not be parsed
	// into the target struct.
	ErrParsingConfig = errors.New("failed to parse config from environment")
)

var loadDotEnv sync.Once

// Load populates the configuration struct from environment variables based
// on its `env` field tags. A .env file in the working directory is loaded
// into the environment once per process; its absence is not an error.
//
// Example:
//
//	type CacheConfig struct {
//		TTL time.Duration `env:"FLAG_CACHE_TTL" envDefault:"5m"`
//	}
//
//	var cfg CacheConfig
//	if err := config.Load(&cfg); err != nil {
//		// Handle error
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	loadDotEnv.Do(func() {
		// The .env file is a development convenience and may not exist.
		_ = godotenv.Load()
	})

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad works like Load but panics on failure. Use it for configuration
// the process cannot start without.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

package cache

import (
	"fmt"

	"github.com/perkline/perkline/internal/config"
	"github.com/rs/zerolog/log"
)

// NewFromConfig creates the configured cache backend, wrapped with
// instrumentation.
//
// The cache type must be "memory". Any other value returns an error.
func NewFromConfig[T any](cfg config.CacheConfig) (Cache[T], error) {
	switch cfg.Type {
	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Int("max_size", cfg.MaxSize).
			Dur("sweep_interval", cfg.SweepInterval).
			Msg("initializing response cache")

		c := NewMemory[T](
			WithSweepInterval(cfg.SweepInterval),
			WithMaxSize(cfg.MaxSize),
		)

		return NewInstrumented[T](c, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be \"memory\"", cfg.Type)
	}
}

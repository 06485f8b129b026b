// Package kv provides the durable key-value storage used to persist client
// state (such as the QR token) across restarts.
package kv

import (
	"context"
	"fmt"
	"sync"

	"github.com/perkline/perkline/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store is a string key-value store.
type Store interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// Memory is a non-durable store, used in tests and when persistence is
// disabled.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// NewFromConfig creates the store selected by cfg.Type.
func NewFromConfig(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		log.Info().Str("storage_type", "memory").Msg("initializing key-value storage")
		return NewMemory(), nil

	case "file":
		path := cfg.Path
		if path == "" {
			p, err := DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}

		log.Info().Str("storage_type", "file").Str("path", path).Msg("initializing key-value storage")

		return NewFile(path)

	case "redis":
		log.Info().
			Str("storage_type", "redis").
			Str("address", cfg.Redis.Address).
			Int("db", cfg.Redis.DB).
			Msg("initializing key-value storage")

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		store, err := NewRedis(ctx, client, cfg.Redis.Prefix)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("invalid storage type %q: must be one of \"memory\", \"file\" or \"redis\"", cfg.Type)
	}
}

package testhelpers

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/perkline/perkline/internal/config"
	"github.com/redis/go-redis/v9"
)

// RunRedis starts an in-process Redis server. Cleanup is handled
// automatically via t.Cleanup().
func RunRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: server.Addr(),
	})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return server, client
}

// RedisStorageConfig returns storage configuration pointing at server.
func RedisStorageConfig(server *miniredis.Miniredis) config.StorageConfig {
	return config.StorageConfig{
		Type: "redis",
		Redis: config.RedisConfig{
			Address: server.Addr(),
			Prefix:  "test:",
		},
	}
}

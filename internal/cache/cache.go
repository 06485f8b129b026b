// Package cache holds successful API responses for a bounded time so that
// repeated reads can skip the network. It is a local, best-effort
// optimization: entries are never shared between processes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores values by key with a per-entry time-to-live.
type Cache[T any] interface {
	// Get returns the value for key if present and unexpired. An expired
	// entry is a miss.
	Get(ctx context.Context, key string) (T, bool, error)

	// Set stores value under key for ttl. A non-positive ttl stores nothing
	// and removes any existing entry.
	Set(ctx context.Context, key string, value T, ttl time.Duration) error

	// Invalidate removes the entry for key.
	Invalidate(ctx context.Context, key string) error

	// InvalidateAll removes every entry, for example on sign-out.
	InvalidateAll(ctx context.Context) error

	// Close releases any resources held by the cache.
	Close() error
}

// Entry is a stored value and the time it was written.
type Entry[T any] struct {
	Key      string
	Value    T
	StoredAt time.Time
	TTL      time.Duration
}

// Valid reports whether the entry is still fresh at now.
func (e Entry[T]) Valid(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Key derives a deterministic cache key from an endpoint and the options
// that shape its response. Options are hashed via their JSON encoding, so
// equal options produce equal keys. Nil options yield the bare endpoint.
func Key(endpoint string, opts any) string {
	if opts == nil {
		return endpoint
	}

	data, err := json.Marshal(opts)
	if err != nil {
		data = fmt.Appendf(nil, "%#v", opts)
	}

	hash := sha256.Sum256(data)
	return endpoint + ":" + hex.EncodeToString(hash[:])
}

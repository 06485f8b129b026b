package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often expired entries are removed when no
// interval is configured.
const DefaultSweepInterval = 60 * time.Second

// Memory is an in-memory cache implementation using otter. Each entry
// expires according to the TTL it was written with: expired entries are
// misses and are removed when read, and a background sweep removes expired
// entries that are never read again.
type Memory[T any] struct {
	cache   *otter.Cache[string, Entry[T]]
	counter *stats.Counter
	now     func() time.Time

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type memoryOptions struct {
	now           func() time.Time
	sweepInterval time.Duration
	maxSize       int
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*memoryOptions)

// WithClock replaces the time source used to judge expiry, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		o.now = now
	}
}

// WithSweepInterval sets how often expired entries are swept. A
// non-positive interval disables the background sweep.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		o.sweepInterval = d
	}
}

// WithMaxSize bounds the number of entries held. Zero means unbounded.
func WithMaxSize(n int) MemoryOption {
	return func(o *memoryOptions) {
		o.maxSize = n
	}
}

// NewMemory creates a memory cache and starts its sweeper. Call Close to
// stop the sweeper.
func NewMemory[T any](opts ...MemoryOption) *Memory[T] {
	o := memoryOptions{
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	counter := stats.NewCounter()

	m := &Memory[T]{
		cache: otter.Must(&otter.Options[string, Entry[T]]{
			MaximumSize:   o.maxSize,
			StatsRecorder: counter,
			ExpiryCalculator: otter.ExpiryWritingFunc[string, Entry[T]](func(e otter.Entry[string, Entry[T]]) time.Duration {
				return e.Value.TTL
			}),
		}),
		counter: counter,
		now:     o.now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if o.sweepInterval > 0 {
		go m.sweepEvery(o.sweepInterval)
	} else {
		close(m.done)
	}

	return m
}

// Get retrieves a value from the cache. An expired entry is removed and
// reported as a miss.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	entry, ok := m.cache.GetIfPresent(key)
	if !ok {
		var zero T
		return zero, false, nil
	}

	if !entry.Valid(m.now()) {
		m.cache.Invalidate(key)
		var zero T
		return zero, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a value in the cache for ttl.
func (m *Memory[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		m.cache.Invalidate(key)
		return nil
	}

	m.cache.Set(key, Entry[T]{
		Key:      key,
		Value:    value,
		StoredAt: m.now(),
		TTL:      ttl,
	})

	return nil
}

// Invalidate removes a value from the cache.
func (m *Memory[T]) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

func (m *Memory[T]) InvalidateAll(ctx context.Context) error {
	m.cache.InvalidateAll()
	return nil
}

// Len returns the number of entries currently held.
func (m *Memory[T]) Len() int {
	n := 0
	for range m.cache.All() {
		n++
	}
	return n
}

// Stats returns the hit and miss counts recorded so far.
func (m *Memory[T]) Stats() (hits, misses uint64) {
	snapshot := m.counter.Snapshot()
	return snapshot.Hits, snapshot.Misses
}

// Sweep removes every entry whose age exceeds its TTL and returns the
// number removed.
func (m *Memory[T]) Sweep() int {
	now := m.now()

	var expired []string
	for key, entry := range m.cache.All() {
		if !entry.Valid(now) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		m.cache.Invalidate(key)
	}

	return len(expired)
}

// Close stops the background sweep and drops every entry. It is safe to
// call more than once.
func (m *Memory[T]) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
	m.cache.InvalidateAll()
	return nil
}

func (m *Memory[T]) sweepEvery(interval time.Duration) {
	defer close(m.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("cache: swept expired entries")
			}
		case <-m.stop:
			return
		}
	}
}

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGet_NotFound(t *testing.T) {
	c := NewMemory[CacheTestDummy](WithSweepInterval(0))
	defer c.Close()

	value, found, err := c.Get(context.Background(), "nonexistent")

	assert.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, CacheTestDummy{}, value)
}

func TestMemorySetAndGet_Success(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(0))
	defer c.Close()

	expected := CacheTestDummy{Data: "testdata"}
	require.NoError(t, c.Set(ctx, "test-key", expected, time.Minute))

	value, found, err := c.Get(ctx, "test-key")

	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, expected, value)
}

func TestMemoryTTLExpiry_EvictedOnRead(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemory[CacheTestDummy](WithClock(clock.Now), WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "v"}, 5*time.Minute))

	clock.Advance(5*time.Minute - time.Second)
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found, "entry is fresh just before its TTL")

	clock.Advance(time.Second)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found, "entry at exactly its TTL is expired")
	assert.Equal(t, 0, c.Len(), "expired entry removed on read")
}

func TestMemorySet_NonPositiveTTLStoresNothing(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))
	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "w"}, 0))

	_, found, _ := c.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", CacheTestDummy{Data: "a"}, time.Minute))
	require.NoError(t, c.Set(ctx, "b", CacheTestDummy{Data: "b"}, time.Minute))

	require.NoError(t, c.Invalidate(ctx, "a"))
	_, found, _ := c.Get(ctx, "a")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "b")
	assert.True(t, found)

	require.NoError(t, c.InvalidateAll(ctx))
	assert.Equal(t, 0, c.Len())
}

func TestMemorySweep_RemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemory[CacheTestDummy](WithClock(clock.Now), WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", CacheTestDummy{}, time.Minute))
	require.NoError(t, c.Set(ctx, "long", CacheTestDummy{}, time.Hour))

	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, found, _ := c.Get(ctx, "long")
	assert.True(t, found)
}

func TestMemorySweep_Background(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(10 * time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{}, 5*time.Millisecond))

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryClose_Idempotent(t *testing.T) {
	c := NewMemory[CacheTestDummy]()

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[int](WithSweepInterval(time.Millisecond))
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				_ = c.Set(ctx, "k", i*j, time.Millisecond)
				_, _, _ = c.Get(ctx, "k")
			}
		}()
	}
	wg.Wait()
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(0), WithMaxSize(100))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))

	value, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value.Data)

	_, found, _ = c.Get(ctx, "missing")
	assert.False(t, found)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestMemoryPerEntryTTL_RealClock(t *testing.T) {
	ctx := context.Background()
	c := NewMemory[CacheTestDummy](WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", CacheTestDummy{}, 50*time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", CacheTestDummy{}, time.Hour))

	time.Sleep(150 * time.Millisecond)

	_, found, _ := c.Get(ctx, "short")
	assert.False(t, found)
	_, found, _ = c.Get(ctx, "long")
	assert.True(t, found)
}

func TestMemorySet_RewriteRestartsTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewMemory[CacheTestDummy](WithClock(clock.Now), WithSweepInterval(0))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "v"}, time.Minute))
	clock.Advance(50 * time.Second)
	require.NoError(t, c.Set(ctx, "k", CacheTestDummy{Data: "w"}, time.Minute))
	clock.Advance(50 * time.Second)

	value, found, _ := c.Get(ctx, "k")
	assert.True(t, found)
	assert.Equal(t, "w", value.Data)
}

func TestEntryValid(t *testing.T) {
	stored := time.Unix(0, 0)
	e := Entry[string]{StoredAt: stored, TTL: time.Second}

	assert.True(t, e.Valid(stored))
	assert.True(t, e.Valid(stored.Add(999*time.Millisecond)))
	assert.False(t, e.Valid(stored.Add(time.Second)))
}

func TestKey(t *testing.T) {
	type opts struct {
		Page  int    `json:"page"`
		Query string `json:"q"`
	}

	a := Key("/items", opts{Page: 1, Query: "coffee"})
	b := Key("/items", opts{Page: 1, Query: "coffee"})
	c := Key("/items", opts{Page: 2, Query: "coffee"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^/items:[0-9a-f]{64}$`, a)
	assert.Equal(t, "/items", Key("/items", nil))
	assert.NotEqual(t, Key("/items", opts{}), Key("/stores", opts{}))
}

// CacheTestDummy is a simple struct used for testing the generic caches.
type CacheTestDummy struct {
	Data string
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheGetSet(t *testing.T) {
	c := NewTTLCache(time.Minute, 10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", int64(42))
	value, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, int64(42), value)

	c.Delete("key")
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	c := NewTTLCache(time.Minute, 10)
	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("key", "value")
	_, ok := c.Get("key")
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok = c.Get("key")
	assert.False(t, ok)
}

func TestTTLCacheBoundedSize(t *testing.T) {
	c := NewTTLCache(time.Minute, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	held := 0
	for _, key := range []string{"a", "b", "c"} {
		if _, ok := c.Get(key); ok {
			held++
		}
	}
	assert.Equal(t, 2, held)
}

func TestMemoryCounterStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCounterStore()

	n, err := s.Incr(ctx, 1, "num_success")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Incr(ctx, 1, "num_success")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Counters are namespaced per file.
	n, err = s.Get(ctx, 2, "num_success")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, s.Set(ctx, 1, "num_rows", 100))
	n, err = s.Get(ctx, 1, "num_rows")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)

	require.NoError(t, s.DeleteFile(ctx, 1))
	n, err = s.Get(ctx, 1, "num_success")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCounterKeyFormat(t *testing.T) {
	assert.Equal(t, "file:42:num_rows", counterKey(42, "num_rows"))
}

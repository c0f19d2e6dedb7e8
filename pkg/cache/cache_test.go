package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/test/util"
)

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := New(util.SetupTestRedis(t))

	t.Run("missing key", func(t *testing.T) {
		v, ok, err := c.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "greeting", "hello", time.Minute))

		v, ok, err := c.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "hello", v)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "greeting", "bye", time.Minute))

		v, ok, err := c.Get(ctx, "greeting")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "bye", v)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "gone", "x", time.Minute))
		require.NoError(t, c.Delete(ctx, "gone"))

		_, ok, err := c.Get(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete missing key is not an error", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "never-set"))
	})
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	c := New(util.SetupTestRedis(t))

	t.Run("key with ttl", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "expiring", "v", time.Minute))

		d, err := c.TTL(ctx, "expiring")
		require.NoError(t, err)
		assert.Greater(t, d, 50*time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	})

	t.Run("persistent key has zero ttl", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "forever", "v", 0))

		d, err := c.TTL(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), d)
	})

	t.Run("missing key has zero ttl", func(t *testing.T) {
		d, err := c.TTL(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), d)
	})
}

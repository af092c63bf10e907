package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(mr.Addr(), "", 0), mr
}

func TestRedisCache_GetSetTTL(t *testing.T) {
	c, mr := newTestCache(t)
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetTTL(ctx, "zen:1.2.3.4", "spamhaus_sbl", time.Hour))

	value, ok, err := c.Get(ctx, "zen:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "spamhaus_sbl", value)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.Get(ctx, "zen:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should be gone")
}

func TestRedisCache_ListPushLenPopN(t *testing.T) {
	c, _ := newTestCache(t)
	defer c.Close()
	ctx := context.Background()

	key := "verdict:batch_buffer:t1"
	for i := 0; i < 5; i++ {
		require.NoError(t, c.ListPush(ctx, key, string(rune('a'+i))))
	}

	length, err := c.ListLen(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), length)

	popped, err := c.ListPopN(ctx, key, 3)
	require.NoError(t, err)
	assert.Len(t, popped, 3)

	remaining, err := c.ListLen(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestRedisCache_ListPopN_EmptyList(t *testing.T) {
	c, _ := newTestCache(t)
	defer c.Close()

	popped, err := c.ListPopN(context.Background(), "nonexistent", 5)
	require.NoError(t, err)
	assert.Empty(t, popped)
}

func TestRedisCache_ListPopN_MoreThanAvailable(t *testing.T) {
	c, _ := newTestCache(t)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.ListPush(ctx, "k", "only-one"))

	popped, err := c.ListPopN(ctx, "k", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"only-one"}, popped)

	length, err := c.ListLen(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)
}

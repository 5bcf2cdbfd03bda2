package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	Titles []string `json:"titles"`
	Total  int      `json:"total"`
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client), mr
}

func TestCache_SetGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	var got page
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", page{Titles: []string{"a"}, Total: 1}, time.Minute))
	found, err = cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, page{Titles: []string{"a"}, Total: 1}, got)
}

func TestCache_Expires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", page{Total: 1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	found, err := cache.Get(ctx, "k", &page{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Versions(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.GetVersion(ctx, "user:1:docs:version"))
	cache.IncrementVersion(ctx, "user:1:docs:version")
	cache.IncrementVersion(ctx, "user:1:docs:version")
	assert.Equal(t, int64(2), cache.GetVersion(ctx, "user:1:docs:version"))
	assert.Equal(t, int64(0), cache.GetVersion(ctx, "user:2:docs:version"))
}

func TestCache_DisabledIsHarmless(t *testing.T) {
	cache := NewCache(nil)
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	assert.NoError(t, cache.Set(ctx, "k", 1, time.Minute))
	found, err := cache.Get(ctx, "k", new(int))
	assert.NoError(t, err)
	assert.False(t, found)
	cache.IncrementVersion(ctx, "v")
	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
}

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newRedisStore(t)
	exerciseStore(t, s)
}

func TestRedisStoreTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "temp", []byte("v"), 30*time.Second))
	require.NoError(t, s.Set(ctx, "perm", []byte("v"), 0))

	assert.Equal(t, 30*time.Second, mr.TTL("temp"))
	assert.Zero(t, mr.TTL("perm"))

	mr.FastForward(31 * time.Second)

	ok, err := s.Exists(ctx, "temp")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, "temp")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = s.Exists(ctx, "perm")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreSurfacesServerErrors(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

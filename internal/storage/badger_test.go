package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBadgerStore(t *testing.T) *BadgerStore {
	s, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore(t *testing.T) {
	exerciseStore(t, newBadgerStore(t))
}

func TestBadgerStoreTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a key to expire")
	}
	s := newBadgerStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "temp", []byte("v"), 2*time.Second))
	ok, err := s.Exists(ctx, "temp")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(3100 * time.Millisecond)

	ok, err = s.Exists(ctx, "temp")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, "temp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStoreListOrderSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()

	s, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, s.ListAppend(ctx, "l", []byte("first")))
	require.NoError(t, s.ListAppend(ctx, "l", []byte("second")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.ListAppend(ctx, "l", []byte("third")))

	all, err := s.ListRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second"), []byte("third")}, all)
}

func TestBadgerStorePingAfterClose(t *testing.T) {
	s, err := OpenBadger("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}

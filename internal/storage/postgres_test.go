package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qxebear/upload-pics/internal/db"
)

// TEST_DATABASE_URL points at a disposable database; its kv tables are truncated.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := db.Connect(ctx, url)
	require.NoError(t, err)
	s := NewPostgresStore(pool)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, db.Migrate(url))
	_, err = pool.Exec(ctx, `TRUNCATE kv_entries, kv_list_items`)
	require.NoError(t, err)

	exerciseStore(t, s)
}

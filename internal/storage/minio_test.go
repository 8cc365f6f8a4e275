package storage

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TEST_MINIO_ENDPOINT enables the test against a local server using the
// default minioadmin credentials. Each run gets its own bucket.
func TestMinioStore(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_MINIO_ENDPOINT not set")
	}
	ctx := context.Background()
	bucket := "store-test-" + xid.New().String()

	s, err := NewMinioStore(ctx, endpoint, "minioadmin", "minioadmin", bucket, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.RemoveBucketWithOptions(context.Background(), bucket, minio.RemoveBucketOptions{ForceDelete: true})
	})

	exerciseStore(t, s)
}

func TestElementNameOrdersByTime(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// a later xid on the earlier element must not reorder the pair
	first := elementName("uploads:list", base, xid.NewWithTime(base.Add(time.Hour)))
	second := elementName("uploads:list", base.Add(time.Nanosecond), xid.NewWithTime(base))

	assert.Less(t, first, second)
	assert.True(t, strings.HasPrefix(first, "list/uploads:list/"))
}

// Package storage defines the key-value engine behind uploads.
// Swap engines by changing the concrete type injected at startup: Redis, an
// embedded Badger database, Postgres tables or an S3-compatible bucket all
// satisfy Store.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key is absent or has expired.
var ErrNotFound = errors.New("key not found")

// Store is the interface for single-key values with optional expiry plus
// ordered lists. No guarantee spans more than one call.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value at key. A ttl of zero means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
	// Exists reports whether key currently holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// ListAppend pushes value onto the tail of the list at key.
	ListAppend(ctx context.Context, key string, value []byte) error
	// ListRange returns elements start..stop inclusive. Negative indices
	// count from the tail, so (0, -1) is the whole list.
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	// ListRemove deletes every element equal to value and reports how many went.
	ListRemove(ctx context.Context, key string, value []byte) (int64, error)
	// ListLen returns the number of elements in the list at key.
	ListLen(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// rangeBounds converts list indices to a half-open slice window over n
// elements, following LRANGE rules. ok is false when the window is empty.
func rangeBounds(start, stop, n int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

// sliceRange applies rangeBounds to an already loaded list.
func sliceRange(values [][]byte, start, stop int64) [][]byte {
	lo, hi, ok := rangeBounds(start, stop, int64(len(values)))
	if !ok {
		return [][]byte{}
	}
	return values[lo:hi]
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on two tables created by the db package
// migrations. Expiry is evaluated against the database clock on every read;
// expired rows are purged opportunistically on writes.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx,
		`SELECT value FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`,
		key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO kv_entries (key, value, expires_at)
		 VALUES ($1, $2, CASE WHEN $3::float8 > 0 THEN NOW() + make_interval(secs => $3::float8) END)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, ttl.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM kv_entries WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("purge expired entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM kv_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW()))`,
		key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", key, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListAppend(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.Exec(ctx, `INSERT INTO kv_list_items (key, value) VALUES ($1, $2)`, key, value); err != nil {
		return fmt.Errorf("append %q: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	rows, err := s.db.Query(ctx, `SELECT value FROM kv_list_items WHERE key = $1 ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("range %q: %w", key, err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan range %q: %w", key, err)
	}
	return sliceRange(values, start, stop), nil
}

func (s *PostgresStore) ListRemove(ctx context.Context, key string, value []byte) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM kv_list_items WHERE key = $1 AND value = $2`, key, value)
	if err != nil {
		return 0, fmt.Errorf("remove from %q: %w", key, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM kv_list_items WHERE key = $1`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("len %q: %w", key, err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerRetries = 3

var (
	badgerValuePrefix = []byte("v/")
	badgerListPrefix  = []byte("l/")
	badgerSeqKey      = []byte("seq/lists")
)

// BadgerStore implements Store on an embedded Badger database. Values carry
// native Badger TTLs; each list element is its own key ordered by a
// monotonically increasing sequence number.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadger opens (or creates) a database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	seq, err := db.GetSequence(badgerSeqKey, 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open list sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func valueKey(key string) []byte {
	return append(append([]byte{}, badgerValuePrefix...), key...)
}

func listPrefix(key string) []byte {
	p := append(append([]byte{}, badgerListPrefix...), key...)
	return append(p, 0)
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerRetries; i++ {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(valueKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %q: %w", key, err)
	}
	return out, nil
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.update(func(txn *badger.Txn) error {
		e := badger.NewEntry(valueKey(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) Del(_ context.Context, keys ...string) error {
	err := s.update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(valueKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger del: %w", err)
	}
	return nil
}

func (s *BadgerStore) Exists(_ context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(valueKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger exists %q: %w", key, err)
	}
	return exists, nil
}

func (s *BadgerStore) ListAppend(_ context.Context, key string, value []byte) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badger next sequence: %w", err)
	}
	elemKey := binary.BigEndian.AppendUint64(listPrefix(key), n)
	err = s.update(func(txn *badger.Txn) error {
		return txn.Set(elemKey, value)
	})
	if err != nil {
		return fmt.Errorf("badger append %q: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := listPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger range %q: %w", key, err)
	}
	return sliceRange(values, start, stop), nil
}

func (s *BadgerStore) ListRemove(_ context.Context, key string, value []byte) (int64, error) {
	var removed int64
	err := s.update(func(txn *badger.Txn) error {
		removed = 0
		prefix := listPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)

		var matches [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				if bytes.Equal(v, value) {
					matches = append(matches, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, k := range matches {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		removed = int64(len(matches))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger remove %q: %w", key, err)
	}
	return removed, nil
}

func (s *BadgerStore) ListLen(_ context.Context, key string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := listPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false // Only need keys
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger len %q: %w", key, err)
	}
	return n, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close releases the list sequence and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}

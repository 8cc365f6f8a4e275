package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/xid"
)

// MinioStore implements Store on a MinIO (or any S3-compatible) bucket.
// Values live at "kv/{key}" with the expiry recorded in the object's Expires
// header; reads treat an object past its expiry as absent and remove it.
// Each list element is a separate object under "list/{key}/" named by the
// append time in nanoseconds followed by an xid, so lexical listing order is
// append order across processes, up to clock skew between writers.
type MinioStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioStore creates a MinIO client, ensures the bucket exists and returns a
// ready-to-use MinioStore. The bucket is left private: images are served by
// the application, not by the object store.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		slog.Info("storage: created bucket", "bucket", bucket)
	}

	return &MinioStore{client: client, bucket: bucket, now: time.Now}, nil
}

func objectName(key string) string { return "kv/" + key }

func listObjectPrefix(key string) string { return "list/" + key + "/" }

// elementName zero-pads the timestamp so names sort numerically. The xid
// breaks ties within one nanosecond.
func elementName(key string, at time.Time, id xid.ID) string {
	return fmt.Sprintf("%s%020d-%s", listObjectPrefix(key), at.UnixNano(), id.String())
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func (s *MinioStore) expired(info minio.ObjectInfo) bool {
	return !info.Expires.IsZero() && !s.now().Before(info.Expires)
}

// readObject returns the object's bytes, or ErrNotFound when it is missing
// or expired.
func (s *MinioStore) readObject(ctx context.Context, name string, honorExpiry bool) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat object %q: %w", name, err)
	}
	if honorExpiry && s.expired(info) {
		s.reap(ctx, name)
		return nil, ErrNotFound
	}
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", name, err)
	}
	return b, nil
}

// reap removes an expired object. Failure only delays cleanup.
func (s *MinioStore) reap(ctx context.Context, name string) {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		slog.Debug("storage: remove expired object failed", "object", name, "error", err)
	}
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.readObject(ctx, objectName(key), true)
}

func (s *MinioStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if ttl > 0 {
		opts.Expires = s.now().Add(ttl)
	}
	name := objectName(key)
	if _, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(value), int64(len(value)), opts); err != nil {
		return fmt.Errorf("put object %q: %w", name, err)
	}
	return nil
}

func (s *MinioStore) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, objectName(k), minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %q: %w", objectName(k), err)
		}
	}
	return nil
}

func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	name := objectName(key)
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q: %w", name, err)
	}
	if s.expired(info) {
		s.reap(ctx, name)
		return false, nil
	}
	return true, nil
}

// elementNames returns the object names of a list in append order.
func (s *MinioStore) elementNames(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var names []string
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    listObjectPrefix(key),
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list objects %q: %w", key, info.Err)
		}
		names = append(names, info.Key)
	}
	return names, nil
}

func (s *MinioStore) ListAppend(ctx context.Context, key string, value []byte) error {
	name := elementName(key, s.now(), xid.New())
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put list element %q: %w", name, err)
	}
	return nil
}

func (s *MinioStore) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	names, err := s.elementNames(ctx, key)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(start, stop, int64(len(names)))
	if !ok {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, name := range names[lo:hi] {
		b, err := s.readObject(ctx, name, false)
		if errors.Is(err, ErrNotFound) {
			continue // removed concurrently
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *MinioStore) ListRemove(ctx context.Context, key string, value []byte) (int64, error) {
	names, err := s.elementNames(ctx, key)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, name := range names {
		b, err := s.readObject(ctx, name, false)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if !bytes.Equal(b, value) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove list element %q: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func (s *MinioStore) ListLen(ctx context.Context, key string) (int64, error) {
	names, err := s.elementNames(ctx, key)
	if err != nil {
		return 0, err
	}
	return int64(len(names)), nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", s.bucket)
	}
	return nil
}

func (s *MinioStore) Close() error {
	return nil
}

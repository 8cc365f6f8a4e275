// Package image implements the upload index and blob lifecycle of the image host.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qxebear/upload-pics/internal/storage"
)

const expireMarkerValue = "1"

// dateLayout is ISO 8601 with exactly three fractional digits.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// Entry is one element of the upload index: a pointer from a filename to the
// blob holding its bytes. raw is the exact stored form, used for removal.
type Entry struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`

	raw []byte
}

// Blob is the persisted record of one upload. Data is base64-encoded at rest
// by encoding/json.
type Blob struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"date"`
	Data      []byte    `json:"data"`
}

// blobRecord is the stored layout of a Blob.
type blobRecord struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Date     string `json:"date"`
	Data     []byte `json:"data"`
}

// MarshalJSON writes the date with millisecond precision.
func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(blobRecord{
		ID:       b.ID,
		Filename: b.Filename,
		MimeType: b.MimeType,
		Date:     formatDate(b.CreatedAt),
		Data:     b.Data,
	})
}

// blobMeta decodes a blob record without its payload.
type blobMeta struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mimeType"`
	CreatedAt time.Time `json:"date"`
}

// decodeEntry is the single rule for reading index elements: anything that is
// not a JSON object with an id is malformed and reported as !ok.
func decodeEntry(raw []byte) (Entry, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil || e.ID == "" {
		return Entry{}, false
	}
	e.raw = raw
	return e, true
}

func decodeBlob[T Blob | blobMeta](raw []byte) (*T, bool) {
	var b T
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false
	}
	return &b, true
}

// indexRow is a raw index element and its decoded form, if any.
type indexRow struct {
	raw   []byte
	entry Entry
	ok    bool
}

// Repository maps uploads onto store keys:
//
//	{prefix}:list         index entries, append order
//	{prefix}:images:{id}  blob record
//	{prefix}:expire:{id}  expiration marker
type Repository struct {
	store  storage.Store
	prefix string
}

// NewRepository creates a Repository over store using prefix for every key.
func NewRepository(store storage.Store, prefix string) *Repository {
	return &Repository{store: store, prefix: prefix}
}

func (r *Repository) listKey() string            { return r.prefix + ":list" }
func (r *Repository) blobKey(id string) string   { return r.prefix + ":images:" + id }
func (r *Repository) expireKey(id string) string { return r.prefix + ":expire:" + id }

func (r *Repository) rows(ctx context.Context) ([]indexRow, error) {
	raws, err := r.store.ListRange(ctx, r.listKey(), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	rows := make([]indexRow, len(raws))
	for i, raw := range raws {
		e, ok := decodeEntry(raw)
		rows[i] = indexRow{raw: raw, entry: e, ok: ok}
	}
	return rows, nil
}

// Entries returns the well-formed index entries in order.
func (r *Repository) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := r.rows(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if row.ok {
			entries = append(entries, row.entry)
		}
	}
	return entries, nil
}

// IndexLen counts index elements, malformed ones included.
func (r *Repository) IndexLen(ctx context.Context) (int64, error) {
	n, err := r.store.ListLen(ctx, r.listKey())
	if err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	return n, nil
}

// AppendEntry adds an entry at the tail of the index.
func (r *Repository) AppendEntry(ctx context.Context, id, filename string) error {
	raw, err := json.Marshal(Entry{ID: id, Filename: filename})
	if err != nil {
		return fmt.Errorf("encode index entry: %w", err)
	}
	if err := r.store.ListAppend(ctx, r.listKey(), raw); err != nil {
		return fmt.Errorf("append index entry: %w", err)
	}
	return nil
}

// removeRaw drops every index element byte-equal to raw.
func (r *Repository) removeRaw(ctx context.Context, raw []byte) (int64, error) {
	n, err := r.store.ListRemove(ctx, r.listKey(), raw)
	if err != nil {
		return 0, fmt.Errorf("remove index entry: %w", err)
	}
	return n, nil
}

// RemoveEntry drops e (and any byte-identical duplicates) from the index.
func (r *Repository) RemoveEntry(ctx context.Context, e Entry) (int64, error) {
	return r.removeRaw(ctx, e.raw)
}

// BlobExists reports whether the blob for id is still live.
func (r *Repository) BlobExists(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Exists(ctx, r.blobKey(id))
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", id, err)
	}
	return ok, nil
}

func (r *Repository) getRaw(ctx context.Context, id string) ([]byte, error) {
	raw, err := r.store.Get(ctx, r.blobKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return raw, nil
}

// GetBlob loads the full record for id. Absent and malformed records both
// yield ErrNotFound.
func (r *Repository) GetBlob(ctx context.Context, id string) (*Blob, error) {
	raw, err := r.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	b, ok := decodeBlob[Blob](raw)
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (r *Repository) getMeta(ctx context.Context, id string) (*blobMeta, error) {
	raw, err := r.getRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	m, ok := decodeBlob[blobMeta](raw)
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

// PutBlob persists b, expiring after ttl when ttl is positive.
func (r *Repository) PutBlob(ctx context.Context, b *Blob, ttl time.Duration) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode blob: %w", err)
	}
	if err := r.store.Set(ctx, r.blobKey(b.ID), raw, ttl); err != nil {
		return fmt.Errorf("put blob %s: %w", b.ID, err)
	}
	return nil
}

// PutExpireMarker records that id expires after ttl.
func (r *Repository) PutExpireMarker(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.store.Set(ctx, r.expireKey(id), []byte(expireMarkerValue), ttl); err != nil {
		return fmt.Errorf("put expire marker %s: %w", id, err)
	}
	return nil
}

// DeleteBlob removes the blob and its expiration marker. Either may already
// be gone.
func (r *Repository) DeleteBlob(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, r.blobKey(id), r.expireKey(id)); err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

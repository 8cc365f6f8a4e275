package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qxebear/upload-pics/internal/config"
)

var (
	// ErrNoFile is returned when an upload carries no file.
	ErrNoFile = errors.New("no file provided")
	// ErrInvalidTTL is returned for a ttl that is neither empty, "0" nor a positive integer.
	ErrInvalidTTL = errors.New("invalid TTL value")
	// ErrLimitReached is returned when the index already holds the maximum number of uploads.
	ErrLimitReached = errors.New("upload limit reached")
	// ErrDuplicateFilename is returned when an active upload already uses the filename.
	ErrDuplicateFilename = errors.New("duplicate filename")
	// ErrNotFound is returned when no live upload matches an id or filename.
	ErrNotFound = errors.New("upload not found")
	// ErrStoreUnavailable wraps every failure of the underlying store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// CacheControl is sent with every served image. Content under a filename
// never changes while its blob lives.
const CacheControl = "public, max-age=31536000, immutable"

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// File describes a live upload without its payload.
type File struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	URL          string    `json:"url"`
	MimeType     string    `json:"mimeType"`
	CreatedAt    time.Time `json:"date"`
}

type fileJSON struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	URL          string `json:"url"`
	MimeType     string `json:"mimeType"`
	Date         string `json:"date"`
}

// MarshalJSON writes the date with millisecond precision.
func (f File) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileJSON{
		ID:           f.ID,
		Filename:     f.Filename,
		OriginalName: f.OriginalName,
		URL:          f.URL,
		MimeType:     f.MimeType,
		Date:         formatDate(f.CreatedAt),
	})
}

// UploadInput is one upload request. TTL is the raw form value.
type UploadInput struct {
	Filename string
	MimeType string
	Data     []byte
	TTL      string
}

// Conditions carries the request's cache validators.
type Conditions struct {
	IfNoneMatch     string
	IfModifiedSince string
}

// Content is the outcome of a successful fetch. Body is nil when
// NotModified is set.
type Content struct {
	ID           string
	Filename     string
	MimeType     string
	ETag         string
	LastModified time.Time
	Body         []byte
	NotModified  bool
}

// Service contains the upload lifecycle rules.
type Service struct {
	repo       *Repository
	maxUploads int
	publicBase string
	cache      *lru.Cache[string, *Blob]
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a Service. observer and logger may be nil.
func NewService(repo *Repository, cfg *config.Config, observer Observer, logger *slog.Logger) (*Service, error) {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		maxUploads: cfg.MaxUploads,
		publicBase: cfg.PublicBaseURL,
		observer:   observer,
		logger:     logger,
		now:        time.Now,
	}
	if cfg.ImageCacheSize > 0 {
		cache, err := lru.New[string, *Blob](cfg.ImageCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create image cache: %w", err)
		}
		s.cache = cache
	}
	return s, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// URLFor returns the public retrieval URL of filename.
func (s *Service) URLFor(filename string) string {
	return s.publicBase + "/images/" + url.PathEscape(filename)
}

// ParseTTL interprets the ttl form value. Empty and "0" mean no expiry.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 || n > maxTTLSeconds {
		return 0, ErrInvalidTTL
	}
	return time.Duration(n) * time.Second, nil
}

// Reconcile prunes index entries that are malformed or whose blob no longer
// exists, and returns how many elements were removed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.reconcile(ctx)
	s.observer.RecordReconcile(time.Since(start), removed, err)
	return removed, err
}

func (s *Service) reconcile(ctx context.Context) (int, error) {
	rows, err := s.repo.rows(ctx)
	if err != nil {
		return 0, storeErr("reconcile", err)
	}

	var stale [][]byte
	for _, row := range rows {
		if !row.ok {
			stale = append(stale, row.raw)
			continue
		}
		exists, err := s.repo.BlobExists(ctx, row.entry.ID)
		if err != nil {
			return 0, storeErr("reconcile", err)
		}
		if !exists {
			stale = append(stale, row.raw)
		}
	}

	removed := 0
	for _, raw := range stale {
		n, err := s.repo.removeRaw(ctx, raw)
		if err != nil {
			return removed, storeErr("reconcile", err)
		}
		removed += int(n)
	}
	if removed > 0 {
		s.logger.Info("pruned stale index entries", "removed", removed)
	}
	return removed, nil
}

// List returns the live uploads in upload order.
func (s *Service) List(ctx context.Context) ([]File, error) {
	if _, err := s.Reconcile(ctx); err != nil {
		return nil, err
	}
	entries, err := s.repo.Entries(ctx)
	if err != nil {
		return nil, storeErr("list", err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		meta, err := s.repo.getMeta(ctx, e.ID)
		if errors.Is(err, ErrNotFound) {
			continue // expired since reconciliation
		}
		if err != nil {
			return nil, storeErr("list", err)
		}
		files = append(files, File{
			ID:           e.ID,
			Filename:     meta.Filename,
			OriginalName: e.Filename,
			URL:          s.URLFor(meta.Filename),
			MimeType:     meta.MimeType,
			CreatedAt:    meta.CreatedAt,
		})
	}
	return files, nil
}

// Upload admits a new upload after pruning the index. Checks run in order:
// file present, ttl, capacity, filename uniqueness among live uploads.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*File, error) {
	start := time.Now()
	f, err := s.upload(ctx, in)
	s.observer.RecordUpload(time.Since(start), len(in.Data), err)
	return f, err
}

func (s *Service) upload(ctx context.Context, in UploadInput) (*File, error) {
	if _, err := s.Reconcile(ctx); err != nil {
		return nil, err
	}
	if in.Filename == "" {
		return nil, ErrNoFile
	}
	ttl, err := ParseTTL(in.TTL)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.IndexLen(ctx)
	if err != nil {
		return nil, storeErr("upload", err)
	}
	if count >= int64(s.maxUploads) {
		return nil, ErrLimitReached
	}

	entries, err := s.repo.Entries(ctx)
	if err != nil {
		return nil, storeErr("upload", err)
	}
	for _, e := range entries {
		if e.Filename != in.Filename {
			continue
		}
		exists, err := s.repo.BlobExists(ctx, e.ID)
		if err != nil {
			return nil, storeErr("upload", err)
		}
		if exists {
			return nil, ErrDuplicateFilename
		}
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(in.Data).String()
	}
	b := &Blob{
		ID:        uuid.NewString(),
		Filename:  in.Filename,
		MimeType:  mimeType,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
		Data:      in.Data,
	}

	if err := s.repo.PutBlob(ctx, b, ttl); err != nil {
		return nil, storeErr("upload", err)
	}
	if ttl > 0 {
		if err := s.repo.PutExpireMarker(ctx, b.ID, ttl); err != nil {
			return nil, storeErr("upload", err)
		}
	}
	if err := s.repo.AppendEntry(ctx, b.ID, b.Filename); err != nil {
		return nil, storeErr("upload", err)
	}

	s.logger.Info("upload stored", "id", b.ID, "filename", b.Filename, "bytes", len(b.Data), "ttl", ttl)
	return &File{
		ID:           b.ID,
		Filename:     b.Filename,
		OriginalName: b.Filename,
		URL:          s.URLFor(b.Filename),
		MimeType:     b.MimeType,
		CreatedAt:    b.CreatedAt,
	}, nil
}

// Fetch resolves filename to the first index entry whose blob is still live.
// Entries with the same name whose blobs are gone are skipped.
func (s *Service) Fetch(ctx context.Context, filename string, cond Conditions) (*Content, error) {
	c, err := s.fetch(ctx, filename, cond)
	switch {
	case err == nil && c.NotModified:
		s.observer.RecordFetch(FetchNotModified)
	case err == nil:
		s.observer.RecordFetch(FetchServed)
	case errors.Is(err, ErrNotFound):
		s.observer.RecordFetch(FetchNotFound)
	default:
		s.observer.RecordFetch(FetchFailed)
	}
	return c, err
}

func (s *Service) fetch(ctx context.Context, filename string, cond Conditions) (*Content, error) {
	entries, err := s.repo.Entries(ctx)
	if err != nil {
		return nil, storeErr("fetch", err)
	}

	for _, e := range entries {
		if e.Filename != filename {
			continue
		}
		b, err := s.loadBlob(ctx, e.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeErr("fetch", err)
		}

		c := &Content{
			ID:           b.ID,
			Filename:     filename,
			MimeType:     b.MimeType,
			ETag:         `"` + e.ID + `"`,
			LastModified: b.CreatedAt.UTC().Truncate(time.Second),
		}
		if notModified(cond, c.ETag, c.LastModified) {
			c.NotModified = true
			return c, nil
		}
		c.Body = b.Data
		return c, nil
	}
	return nil, ErrNotFound
}

// loadBlob returns the blob for id. The store decides liveness; the cache
// only saves the payload transfer and decode.
func (s *Service) loadBlob(ctx context.Context, id string) (*Blob, error) {
	if s.cache == nil {
		return s.repo.GetBlob(ctx, id)
	}
	if b, ok := s.cache.Get(id); ok {
		exists, err := s.repo.BlobExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if exists {
			return b, nil
		}
		s.cache.Remove(id)
		return nil, ErrNotFound
	}
	b, err := s.repo.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, b)
	return b, nil
}

func notModified(cond Conditions, etag string, lastModified time.Time) bool {
	if cond.IfNoneMatch != "" {
		for _, tag := range strings.Split(cond.IfNoneMatch, ",") {
			tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
			if tag == "*" || tag == etag {
				return true
			}
		}
	}
	if cond.IfModifiedSince != "" {
		if t, err := http.ParseTime(cond.IfModifiedSince); err == nil && !lastModified.After(t) {
			return true
		}
	}
	return false
}

// Delete removes the upload with the given id: its index entry, blob and
// expiration marker.
func (s *Service) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.delete(ctx, id)
	s.observer.RecordDelete(time.Since(start), err)
	return err
}

func (s *Service) delete(ctx context.Context, id string) error {
	entries, err := s.repo.Entries(ctx)
	if err != nil {
		return storeErr("delete", err)
	}

	var target *Entry
	for i := range entries {
		if entries[i].ID == id {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}

	if _, err := s.repo.RemoveEntry(ctx, *target); err != nil {
		return storeErr("delete", err)
	}
	if s.cache != nil {
		s.cache.Remove(id)
	}
	if err := s.repo.DeleteBlob(ctx, id); err != nil {
		return storeErr("delete", err)
	}

	s.logger.Info("upload deleted", "id", id, "filename", target.Filename)
	return nil
}

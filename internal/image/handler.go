package image

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/qxebear/upload-pics/internal/response"
)

// multipartOverhead is the allowance for form boundaries and the ttl field on
// top of the file size limit.
const multipartOverhead = 1 << 20

// Handler holds HTTP handlers for image endpoints.
type Handler struct {
	svc            *Service
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewHandler creates a new image Handler.
func NewHandler(svc *Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes, logger: logger}
}

// Mount registers the image routes on r. requireAuth guards every route but
// the public retrieval endpoint.
func (h *Handler) Mount(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/images/{filename}", h.Serve)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/images", h.List)
		r.Post("/images", h.Upload)
		r.Delete("/images/{id}", h.Delete)
	})
}

type listResponse struct {
	Success bool   `json:"success" example:"true"`
	Files   []File `json:"files"`
}

type uploadResponse struct {
	Success  bool      `json:"success"  example:"true"`
	ID       string    `json:"id"       example:"0b6f1c8e-2f7a-4f57-9a43-1b2c3d4e5f60"`
	Filename string    `json:"filename" example:"cat.png"`
	MimeType string    `json:"mimeType" example:"image/png"`
	Date     string    `json:"date"     example:"2026-02-27T14:48:34.123Z"`
	URL      string    `json:"url"      example:"/images/cat.png"`
}

// List godoc
//
//	@Summary		List uploads
//	@Description	Prunes expired entries, then returns every live upload in upload order.
//	@Tags			images
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	listResponse
//	@Failure		401	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/images [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("list images", "error", err)
		response.InternalError(w, "Failed to list images")
		return
	}
	response.OK(w, listResponse{Success: true, Files: files})
}

// Upload godoc
//
//	@Summary		Upload an image
//	@Description	Stores the file, optionally expiring after ttl seconds. ttl=0 or no ttl keeps it until deleted.
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file	formData	file	true	"Image file"
//	@Param			ttl		formData	string	false	"Lifetime in seconds, 0 for none"
//	@Success		200		{object}	uploadResponse
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/images [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(w, "File too large")
			return
		}
		response.BadRequest(w, "No file provided")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("failed to remove multipart files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "No file provided")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			h.logger.Warn("failed to close upload", "error", err)
		}
	}()
	if header.Size > h.maxUploadBytes {
		response.TooLarge(w, "File too large")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("read upload", "error", err)
		response.InternalError(w, "Upload failed")
		return
	}

	f, err := h.svc.Upload(r.Context(), UploadInput{
		Filename: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Data:     data,
		TTL:      r.FormValue("ttl"),
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNoFile):
		response.BadRequest(w, "No file provided")
		return
	case errors.Is(err, ErrInvalidTTL):
		response.BadRequest(w, "Invalid TTL value. Must be a positive number or 0 for no expiration.")
		return
	case errors.Is(err, ErrLimitReached):
		response.BadRequest(w, "Upload limit reached")
		return
	case errors.Is(err, ErrDuplicateFilename):
		response.BadRequest(w, "Duplicate filename")
		return
	default:
		h.logger.Error("upload image", "filename", header.Filename, "error", err)
		response.InternalError(w, "Upload failed")
		return
	}

	response.OK(w, uploadResponse{
		Success:  true,
		ID:       f.ID,
		Filename: f.Filename,
		MimeType: f.MimeType,
		Date:     formatDate(f.CreatedAt),
		URL:      f.URL,
	})
}

// Delete godoc
//
//	@Summary		Delete an upload
//	@Description	Removes the upload's index entry, blob and expiration marker.
//	@Tags			images
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path		string	true	"Upload id"
//	@Success		200	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/images/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.svc.Delete(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(w, "Not found")
		return
	}
	if err != nil {
		h.logger.Error("delete image", "id", id, "error", err)
		response.InternalError(w, "Failed to delete file")
		return
	}
	response.OK(w, response.Envelope{Success: true})
}

// Serve godoc
//
//	@Summary		Fetch an image
//	@Description	Public retrieval by filename with ETag / Last-Modified validation.
//	@Tags			images
//	@Produce		octet-stream
//	@Param			filename		path		string	true	"Uploaded filename"
//	@Param			If-None-Match	header		string	false	"ETag from a previous response"
//	@Success		200				{file}		binary
//	@Success		304
//	@Failure		404				{object}	response.Envelope
//	@Failure		500				{object}	response.Envelope
//	@Router			/images/{filename} [get]
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if r.URL.RawPath != "" {
		// chi matched against the escaped path
		if decoded, err := url.PathUnescape(filename); err == nil {
			filename = decoded
		}
	}

	c, err := h.svc.Fetch(r.Context(), filename, Conditions{
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
	})
	if errors.Is(err, ErrNotFound) {
		response.NotFound(w, "File not found")
		return
	}
	if err != nil {
		h.logger.Error("fetch image", "filename", filename, "error", err)
		response.InternalError(w, "Failed to fetch image")
		return
	}

	hdr := w.Header()
	hdr.Set("ETag", c.ETag)
	hdr.Set("Last-Modified", c.LastModified.Format(http.TimeFormat))
	hdr.Set("Cache-Control", CacheControl)
	if c.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", c.MimeType)
	hdr.Set("Content-Length", strconv.Itoa(len(c.Body)))
	hdr.Set("Content-Disposition", contentDisposition(c.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(c.Body); err != nil {
		h.logger.Debug("write image body", "filename", filename, "error", err)
	}
}

// contentDisposition renders the RFC 5987 extended form. Bytes outside the
// URI-component unreserved set are percent-encoded.
func contentDisposition(filename string) string {
	var b strings.Builder
	b.WriteString("inline; filename*=UTF-8''")
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		if isComponentSafe(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isComponentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

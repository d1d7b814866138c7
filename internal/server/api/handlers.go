package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"ember/internal/server/archive"
	"ember/internal/server/database"
	"ember/internal/server/meta"
	"ember/internal/server/service"
	"ember/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the Ember API.
type Handler struct {
	uploads   *service.UploadService
	gate      *service.AccessGate
	analytics *service.AnalyticsService
	store     storage.Store
	db        *database.DB
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(uploads *service.UploadService, gate *service.AccessGate, analytics *service.AnalyticsService, store storage.Store, db *database.DB) *Handler {
	return &Handler{
		uploads:   uploads,
		gate:      gate,
		analytics: analytics,
		store:     store,
		db:        db,
	}
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with one or more "file" fields and optional
// "password", "expires_at" (RFC 3339) and "max_downloads" fields. Multiple
// files are combined into a single ZIP archive before storage.
func (h *Handler) HandleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart form is required",
		})
	}

	files := form.File["file"]
	if len(files) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	opts, err := parseUploadOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	filename, data, size, cleanup, err := openUploadStream(files)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	defer cleanup()

	result, err := h.uploads.ProcessUpload(c.Request().Context(), filename, data, size, opts)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleLinkInfo handles GET /d/:link.
// Password-free links stream the file immediately; password-protected ones
// answer 401 so the client knows to prompt for the password.
func (h *Handler) HandleLinkInfo(c echo.Context) error {
	link := c.Param("link")

	info, err := h.gate.Describe(c.Request().Context(), link)
	if err != nil {
		return mapServiceError(c, err)
	}

	if info.PasswordRequired {
		return c.JSON(http.StatusUnauthorized, echo.Map{
			"file_name":         info.FileName,
			"password_required": true,
		})
	}

	return h.serveDownload(c, link, "")
}

// HandleDownload handles POST /d/:link.
// Accepts the password as a form field or query parameter and streams the
// file on a successful grant.
func (h *Handler) HandleDownload(c echo.Context) error {
	link := c.Param("link")

	password := c.FormValue("password")
	if password == "" {
		password = c.QueryParam("password")
	}

	return h.serveDownload(c, link, password)
}

func (h *Handler) serveDownload(c echo.Context, link, password string) error {
	req := c.Request()

	// Resolve the blob before attempting the grant. A grant consumes one of
	// the link's downloads, and a storage fault must not burn it.
	info, err := h.gate.Describe(req.Context(), link)
	if err != nil {
		return mapServiceError(c, err)
	}
	path, err := h.store.GetPath(info.FileRef)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "stored file is unavailable",
		})
	}

	grant, err := h.gate.Attempt(req.Context(), link, password, meta.Request{
		UserAgent:     req.UserAgent(),
		RemoteIP:      c.RealIP(),
		CountryHeader: req.Header.Get("CF-IPCountry"),
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.Attachment(path, grant.FileName)
}

// HandleAnalytics handles GET /a/:link.
// Returns grouped access counts and the detail table for an upload.
func (h *Handler) HandleAnalytics(c echo.Context) error {
	link := c.Param("link")

	report, err := h.analytics.View(c.Request().Context(), link)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.uploads.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_uploads":      stats.TotalUploads,
		"active_uploads":     stats.ActiveUploads,
		"total_accesses":     stats.TotalAccesses,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// parseUploadOptions reads the optional constraint fields from the form.
func parseUploadOptions(c echo.Context) (service.UploadOptions, error) {
	opts := service.UploadOptions{Password: c.FormValue("password")}

	if v := c.FormValue("expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("expires_at must be RFC 3339 (got %q)", v)
		}
		opts.ExpiresAt = &t
	}

	if v := c.FormValue("max_downloads"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("max_downloads must be an integer (got %q)", v)
		}
		opts.MaxDownloads = &n
	}

	return opts, nil
}

// openUploadStream opens the uploaded file(s) as one byte stream. A single
// file is passed through as-is; multiple files are packed into one ZIP
// before hashing, so the rest of the pipeline only ever sees one stream.
func openUploadStream(files []*multipart.FileHeader) (string, io.Reader, int64, func(), error) {
	if len(files) == 1 {
		fh := files[0]
		src, err := fh.Open()
		if err != nil {
			return "", nil, 0, nil, fmt.Errorf("failed to read uploaded file %q", fh.Filename)
		}
		return fh.Filename, src, fh.Size, func() { src.Close() }, nil
	}

	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	inputs := make([]archive.Input, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			closeAll()
			return "", nil, 0, nil, fmt.Errorf("failed to read uploaded file %q", fh.Filename)
		}
		opened = append(opened, src)
		inputs = append(inputs, archive.Input{Name: fh.Filename, Data: src})
	}

	name, zipBytes, err := archive.Combine(inputs)
	closeAll()
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to combine files: %v", err)
	}

	return name, bytes.NewReader(zipBytes), int64(len(zipBytes)), func() {}, nil
}

// mapServiceError translates service-layer errors into HTTP responses.
// Expired and exhausted links map to the same 404 as unknown ones.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrLimitExceeded):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrInvalidPassword):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid password"})
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrStorageFailed):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "storage failure"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

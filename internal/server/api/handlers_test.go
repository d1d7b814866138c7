package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ember/internal/server/database"
	"ember/internal/server/meta"
	"ember/internal/server/service"

	"github.com/labstack/echo/v4"
)

// stubRepo serves a single upload and counts recorded grants.
type stubRepo struct {
	upload *database.Upload
	events int
}

func (s *stubRepo) Create(ctx context.Context, upload *database.Upload, writeBlob func(context.Context) (string, error), discardBlob func() error) error {
	return nil
}

func (s *stubRepo) GetByPublicLink(ctx context.Context, link string) (*database.Upload, error) {
	if s.upload == nil || s.upload.PublicLink != link {
		return nil, database.ErrUploadNotFound
	}
	cp := *s.upload
	return &cp, nil
}

func (s *stubRepo) GetByAnalyticLink(ctx context.Context, link string) (*database.Upload, error) {
	if s.upload == nil || s.upload.AnalyticLink != link {
		return nil, database.ErrUploadNotFound
	}
	cp := *s.upload
	return &cp, nil
}

func (s *stubRepo) RecordGrant(ctx context.Context, publicLink string, event *database.AccessEvent) error {
	if s.upload == nil || s.upload.PublicLink != publicLink {
		return database.ErrUploadNotFound
	}
	if s.events >= s.upload.MaxDownloads {
		return database.ErrDownloadsExhausted
	}
	s.events++
	event.ID = int64(s.events)
	return nil
}

func (s *stubRepo) ListEvents(ctx context.Context, publicLink string) ([]*database.AccessEvent, error) {
	return nil, nil
}

func (s *stubRepo) CountEvents(ctx context.Context, publicLink string) (int, error) {
	return s.events, nil
}

func (s *stubRepo) GetStats(ctx context.Context) (*database.Stats, error) {
	return &database.Stats{}, nil
}

// stubStore resolves every ref to a fixed path, or fails when the blob is
// marked missing.
type stubStore struct {
	path    string
	missing bool
}

func (s *stubStore) Save(contentHash, fileName string, data io.Reader) (string, int64, error) {
	return filepath.Join(contentHash, fileName), 0, nil
}

func (s *stubStore) GetPath(ref string) (string, error) {
	if s.missing {
		return "", fmt.Errorf("blob not found for ref %s", ref)
	}
	return s.path, nil
}

func (s *stubStore) DeleteContent(contentHash string) error { return nil }

func (s *stubStore) EnsureDir() error { return nil }

type staticDeriver struct{}

func (staticDeriver) Derive(req meta.Request) meta.Metadata {
	return meta.Metadata{OS: "Linux", DeviceType: "PC", Browser: "Firefox"}
}

func downloadContext(e *echo.Echo, link string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/d/"+link, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("link")
	c.SetParamValues(link)
	return c, rec
}

func TestHandleDownload_StorageFaultDoesNotConsumeDownload(t *testing.T) {
	repo := &stubRepo{upload: &database.Upload{
		PublicLink:   "pub1",
		AnalyticLink: "an1",
		FileRef:      "deadbeef/report.txt",
		FileName:     "report.txt",
		FileHash:     "deadbeef",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		MaxDownloads: 1,
		CreatedAt:    time.Now().UTC(),
	}}
	store := &stubStore{missing: true}
	gate := service.NewAccessGate(repo, staticDeriver{})
	h := NewHandler(nil, gate, nil, store, nil)
	e := echo.New()

	c, rec := downloadContext(e, "pub1")
	if err := h.HandleDownload(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for missing blob, got %d", rec.Code)
	}
	if repo.events != 0 {
		t.Fatalf("expected no access events after storage fault, got %d", repo.events)
	}

	// The single download survives the fault and works once the blob is back.
	file := filepath.Join(t.TempDir(), "report.txt")
	if err := os.WriteFile(file, []byte("contents"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	store.missing = false
	store.path = file

	c, rec = downloadContext(e, "pub1")
	if err := h.HandleDownload(c); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 once blob is restored, got %d", rec.Code)
	}
	if repo.events != 1 {
		t.Errorf("expected exactly one access event, got %d", repo.events)
	}
}

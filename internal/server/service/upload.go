package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"ember/internal/server/config"
	"ember/internal/server/database"
	"ember/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// linkMintAttempts bounds retries when a freshly minted identifier collides
// with an existing row.
const linkMintAttempts = 5

// UploadOptions are the caller-supplied constraints for a new upload.
// Nil/empty fields fall back to server defaults: no password, expiry in
// DefaultExpiry, one download.
type UploadOptions struct {
	Password     string
	ExpiresAt    *time.Time
	MaxDownloads *int
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	PublicLink   string    `json:"public_link"`
	AnalyticLink string    `json:"analytic_link"`
	PublicURL    string    `json:"public_url"`
	AnalyticURL  string    `json:"analytic_url"`
	FileName     string    `json:"file_name"`
	Size         int64     `json:"size"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxDownloads int       `json:"max_downloads"`
}

// UploadService accepts new uploads: it hashes content, deduplicates
// physical storage by that hash, and mints the public/analytics link pair.
type UploadService struct {
	repo   Repository
	store  storage.Store
	minter Minter
	cfg    *config.Config
}

// NewUploadService creates a new upload service.
func NewUploadService(repo Repository, store storage.Store, minter Minter, cfg *config.Config) *UploadService {
	return &UploadService{
		repo:   repo,
		store:  store,
		minter: minter,
		cfg:    cfg,
	}
}

// ProcessUpload handles an incoming byte stream: validates constraints,
// computes the content hash, stores bytes (or reuses an existing blob with
// the same hash), and creates the upload record.
//
// The record is only inserted after the bytes are durably stored, and the
// hash-existence check plus insert run as one unit inside the repository, so
// concurrent identical uploads end up sharing one physical blob.
func (s *UploadService) ProcessUpload(ctx context.Context, filename string, data io.Reader, size int64, opts UploadOptions) (*UploadResult, error) {
	if size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	expiresAt, maxDownloads, err := s.applyDefaults(opts)
	if err != nil {
		return nil, err
	}

	// Buffer the content while computing its SHA-256 hash. The buffer is
	// needed for the (possibly skipped) storage write.
	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(data, s.cfg.MaxFileSize+1), hasher)

	var buf bytes.Buffer
	bytesRead, err := io.Copy(&buf, tee)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload data: %w", err)
	}
	if bytesRead > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	fileHash := hex.EncodeToString(hasher.Sum(nil))
	fileName := sanitizeFilename(filename)

	// Hash password if provided. An empty password means no password
	// required, not an empty password accepted.
	var passwordHash *string
	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		passwordHash = &h
	}

	upload := &database.Upload{
		FileName:     fileName,
		FileHash:     fileHash,
		Size:         bytesRead,
		PasswordHash: passwordHash,
		ExpiresAt:    expiresAt,
		MaxDownloads: maxDownloads,
		CreatedAt:    time.Now().UTC(),
	}

	writeBlob := func(ctx context.Context) (string, error) {
		ref, _, err := s.store.Save(fileHash, fileName, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageFailed, err)
		}
		return ref, nil
	}
	discardBlob := func() error {
		return s.store.DeleteContent(fileHash)
	}

	// Identifier collisions are resolved by reminting; the database enforces
	// uniqueness of both links.
	for attempt := 0; ; attempt++ {
		upload.PublicLink, err = s.minter.Mint()
		if err != nil {
			return nil, fmt.Errorf("failed to mint public link: %w", err)
		}
		upload.AnalyticLink, err = s.minter.Mint()
		if err != nil {
			return nil, fmt.Errorf("failed to mint analytic link: %w", err)
		}

		err = s.repo.Create(ctx, upload, writeBlob, discardBlob)
		if err == nil {
			break
		}
		if errors.Is(err, database.ErrLinkTaken) && attempt < linkMintAttempts-1 {
			slog.Warn("link identifier collision, reminting", "attempt", attempt+1)
			continue
		}
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}

	slog.Info("upload processed",
		"public_link", upload.PublicLink,
		"file_name", fileName,
		"size", bytesRead,
		"hash", fileHash,
		"expires_at", expiresAt,
		"max_downloads", maxDownloads,
	)

	return &UploadResult{
		PublicLink:   upload.PublicLink,
		AnalyticLink: upload.AnalyticLink,
		PublicURL:    fmt.Sprintf("%s/d/%s", s.cfg.BaseURL, upload.PublicLink),
		AnalyticURL:  fmt.Sprintf("%s/a/%s", s.cfg.BaseURL, upload.AnalyticLink),
		FileName:     fileName,
		Size:         bytesRead,
		ExpiresAt:    expiresAt,
		MaxDownloads: maxDownloads,
	}, nil
}

// GetStats returns aggregate server statistics.
func (s *UploadService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

func (s *UploadService) applyDefaults(opts UploadOptions) (time.Time, int, error) {
	now := time.Now().UTC()

	expiresAt := now.Add(s.cfg.DefaultExpiry)
	if opts.ExpiresAt != nil {
		if !opts.ExpiresAt.After(now) {
			return time.Time{}, 0, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
		}
		expiresAt = opts.ExpiresAt.UTC()
	}

	maxDownloads := s.cfg.DefaultMaxDownloads
	if opts.MaxDownloads != nil {
		if *opts.MaxDownloads <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: max downloads must be positive", ErrValidation)
		}
		maxDownloads = *opts.MaxDownloads
	}

	return expiresAt, maxDownloads, nil
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." {
		name = "upload.bin"
	}

	return name
}

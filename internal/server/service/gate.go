package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ember/internal/server/database"
	"ember/internal/server/meta"

	"golang.org/x/crypto/bcrypt"
)

// GrantResult authorizes one file delivery.
type GrantResult struct {
	FileRef  string
	FileName string
	Event    *database.AccessEvent
}

// LinkInfo describes a public link to a client that has not yet attempted a
// download, so it knows whether to show a password prompt.
type LinkInfo struct {
	FileName         string `json:"file_name"`
	PasswordRequired bool   `json:"password_required"`

	// FileRef lets the handler verify the blob exists before attempting a
	// grant; it is never exposed to clients.
	FileRef string `json:"-"`
}

// AccessGate decides whether a public link may be served. Every grant
// records exactly one access event as part of the same decision; a rejected
// attempt records nothing and may be retried.
type AccessGate struct {
	repo    Repository
	deriver meta.Deriver
}

// NewAccessGate creates a new access gate.
func NewAccessGate(repo Repository, deriver meta.Deriver) *AccessGate {
	return &AccessGate{repo: repo, deriver: deriver}
}

// Attempt evaluates one access attempt against the record's constraints.
//
// Outcomes:
//   - ErrNotFound: no record matches the link.
//   - ErrInvalidPassword: a password is set and the submission doesn't match.
//     Nothing is recorded; the caller may retry.
//   - ErrLimitExceeded: the record is expired or its download ceiling is
//     reached. Presented identically to ErrNotFound at the boundary so an
//     exhausted link does not confirm its own existence.
//   - nil: the download is authorized and its access event persisted.
func (g *AccessGate) Attempt(ctx context.Context, publicLink, submittedPassword string, req meta.Request) (*GrantResult, error) {
	upload, err := g.repo.GetByPublicLink(ctx, publicLink)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Password check precedes the constraint evaluation: a wrong password
	// must not reveal whether the link is still alive.
	if upload.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*upload.PasswordHash), []byte(submittedPassword)); err != nil {
			return nil, ErrInvalidPassword
		}
	}

	now := time.Now().UTC()
	if !now.Before(upload.ExpiresAt) {
		return nil, ErrLimitExceeded
	}

	m := g.deriver.Derive(req)
	event := &database.AccessEvent{
		UploadLink:  upload.PublicLink,
		OS:          m.OS,
		DeviceType:  m.DeviceType,
		Browser:     m.Browser,
		Country:     m.Country,
		Region:      m.Region,
		City:        m.City,
		TimeClicked: now,
	}

	// The ceiling check and the event insert are one atomic unit in the
	// repository, keeping count(events) <= max_downloads under concurrency.
	if err := g.repo.RecordGrant(ctx, upload.PublicLink, event); err != nil {
		switch {
		case errors.Is(err, database.ErrDownloadsExhausted):
			return nil, ErrLimitExceeded
		case errors.Is(err, database.ErrUploadNotFound):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}

	slog.Info("download granted",
		"public_link", upload.PublicLink,
		"file_name", upload.FileName,
		"os", m.OS,
		"device_type", m.DeviceType,
		"browser", m.Browser,
	)

	return &GrantResult{
		FileRef:  upload.FileRef,
		FileName: upload.FileName,
		Event:    event,
	}, nil
}

// Describe reports whether a link requires a password, without consuming a
// download. Expired and exhausted links answer ErrNotFound, matching the
// gate's post-expiry opacity.
func (g *AccessGate) Describe(ctx context.Context, publicLink string) (*LinkInfo, error) {
	upload, err := g.repo.GetByPublicLink(ctx, publicLink)
	if err != nil {
		if errors.Is(err, database.ErrUploadNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !time.Now().UTC().Before(upload.ExpiresAt) {
		return nil, ErrNotFound
	}

	count, err := g.repo.CountEvents(ctx, upload.PublicLink)
	if err != nil {
		return nil, err
	}
	if count >= upload.MaxDownloads {
		return nil, ErrNotFound
	}

	return &LinkInfo{
		FileName:         upload.FileName,
		PasswordRequired: upload.PasswordHash != nil,
		FileRef:          upload.FileRef,
	}, nil
}

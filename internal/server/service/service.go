// Package service contains the business logic for uploads, the access gate,
// and analytics aggregation.
package service

import (
	"context"
	"errors"

	"ember/internal/server/database"
)

// Sentinel errors for the service layer. Expired and limit-exhausted links
// are deliberately presented as ErrNotFound at the API boundary so a dead
// link is indistinguishable from one that never existed.
var (
	ErrNotFound        = errors.New("upload not found")
	ErrInvalidPassword = errors.New("invalid password")
	ErrLimitExceeded   = errors.New("upload expired or download limit reached")
	ErrValidation      = errors.New("invalid upload input")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrStorageFailed   = errors.New("storage write failed")
)

// Repository is the persistence surface the services depend on,
// implemented by database.Repository.
type Repository interface {
	Create(ctx context.Context, upload *database.Upload, writeBlob func(context.Context) (string, error), discardBlob func() error) error
	GetByPublicLink(ctx context.Context, link string) (*database.Upload, error)
	GetByAnalyticLink(ctx context.Context, link string) (*database.Upload, error)
	RecordGrant(ctx context.Context, publicLink string, event *database.AccessEvent) error
	ListEvents(ctx context.Context, publicLink string) ([]*database.AccessEvent, error)
	CountEvents(ctx context.Context, publicLink string) (int, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

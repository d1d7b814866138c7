package storage

import (
	"context"
	"log/slog"
	"time"

	"ember/internal/server/database"
)

// Reaper is the persistence surface the cleanup loop needs, implemented by
// database.Repository. Reap must make the record delete and the blob removal
// mutually exclusive with the upload path's dedup check for the same hash.
type Reaper interface {
	GetExpired(ctx context.Context) ([]*database.Upload, error)
	Reap(ctx context.Context, upload *database.Upload, deleteBlob func() error) error
}

// CleanupService periodically removes expired uploads from the database and
// deletes content blobs once no remaining record references their hash.
type CleanupService struct {
	repo     Reaper
	store    Store
	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo Reaper, store Store, interval time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	expired, err := cs.repo.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to get expired uploads", "error", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	var cleaned, failed int
	for _, upload := range expired {
		// The record delete and the blob removal are one guarded unit in the
		// repository: the blob is shared between records with equal hashes
		// and only goes once the last reference is gone, and never while a
		// concurrent upload is deciding to reuse it.
		err := cs.repo.Reap(ctx, upload, func() error {
			return cs.store.DeleteContent(upload.FileHash)
		})
		if err != nil {
			slog.Error("failed to reap expired upload",
				"public_link", upload.PublicLink,
				"hash", upload.FileHash,
				"error", err,
			)
			failed++
			continue
		}

		cleaned++
		slog.Info("cleaned up expired upload",
			"public_link", upload.PublicLink,
			"file_name", upload.FileName,
			"expired_at", upload.ExpiresAt,
		)
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"total_expired", len(expired),
	)
}

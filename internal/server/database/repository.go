package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUploadNotFound = errors.New("upload not found")

	// ErrLinkTaken means a freshly minted link identifier collided with an
	// existing row. Callers regenerate identifiers and retry.
	ErrLinkTaken = errors.New("link identifier already taken")

	// ErrDownloadsExhausted means the grant would exceed max_downloads.
	ErrDownloadsExhausted = errors.New("download limit reached")
)

const uniqueViolation = "23505"

// Repository provides persistence for uploads and access events.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// uploadColumns is the column list shared by all upload queries.
const uploadColumns = `public_link, analytic_link, file_ref, file_name, file_hash,
	   size, password_hash, expires_at, max_downloads, created_at`

func scanUpload(row pgx.Row) (*Upload, error) {
	u := &Upload{}
	err := row.Scan(
		&u.PublicLink,
		&u.AnalyticLink,
		&u.FileRef,
		&u.FileName,
		&u.FileHash,
		&u.Size,
		&u.PasswordHash,
		&u.ExpiresAt,
		&u.MaxDownloads,
		&u.CreatedAt,
	)
	return u, err
}

// Create inserts a new upload record, deduplicating content by hash.
//
// The content-hash existence check, the optional blob write, and the record
// insert all run inside one transaction holding an advisory lock keyed by the
// hash, so two concurrent uploads of identical bytes cannot both write blobs
// or disagree about the canonical file_ref. writeBlob is invoked only when no
// record with the same hash exists yet; its return value becomes the new
// record's file_ref. On a duplicate the existing file_ref is reused and
// upload.FileRef is updated in place.
//
// If the blob was freshly written but the insert does not commit, discardBlob
// removes it again before the content lock is released: a blob with no
// committed record is invisible to the expiry sweep and would otherwise leak
// forever.
func (r *Repository) Create(ctx context.Context, upload *Upload, writeBlob func(context.Context) (string, error), discardBlob func() error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize check-then-insert per content hash.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", upload.FileHash); err != nil {
		return fmt.Errorf("failed to take content lock: %w", err)
	}

	wroteFresh := false
	var existingRef string
	err = tx.QueryRow(ctx,
		"SELECT file_ref FROM uploads WHERE file_hash = $1 LIMIT 1",
		upload.FileHash,
	).Scan(&existingRef)
	switch {
	case err == nil:
		// Same bytes already stored, reuse the canonical reference.
		upload.FileRef = existingRef
	case errors.Is(err, pgx.ErrNoRows):
		ref, err := writeBlob(ctx)
		if err != nil {
			return err
		}
		upload.FileRef = ref
		wroteFresh = true
	default:
		return fmt.Errorf("failed to query by hash: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO uploads (
			public_link, analytic_link, file_ref, file_name, file_hash,
			size, password_hash, expires_at, max_downloads, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		upload.PublicLink,
		upload.AnalyticLink,
		upload.FileRef,
		upload.FileName,
		upload.FileHash,
		upload.Size,
		upload.PasswordHash,
		upload.ExpiresAt,
		upload.MaxDownloads,
		upload.CreatedAt,
	)
	if err != nil {
		r.discardFresh(wroteFresh, upload.FileHash, discardBlob)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrLinkTaken
		}
		return fmt.Errorf("failed to create upload: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.discardFresh(wroteFresh, upload.FileHash, discardBlob)
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	return nil
}

// discardFresh removes a blob written in a transaction that did not commit.
// Best effort: a failure here only leaks disk space, never correctness.
func (r *Repository) discardFresh(wroteFresh bool, hash string, discardBlob func() error) {
	if !wroteFresh {
		return
	}
	if err := discardBlob(); err != nil {
		slog.Warn("failed to discard uncommitted blob", "hash", hash, "error", err)
	}
}

// GetByPublicLink retrieves an upload by its public link.
func (r *Repository) GetByPublicLink(ctx context.Context, link string) (*Upload, error) {
	upload, err := scanUpload(r.db.Pool.QueryRow(ctx,
		"SELECT "+uploadColumns+" FROM uploads WHERE public_link = $1", link))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// GetByAnalyticLink retrieves an upload by its analytics link.
func (r *Repository) GetByAnalyticLink(ctx context.Context, link string) (*Upload, error) {
	upload, err := scanUpload(r.db.Pool.QueryRow(ctx,
		"SELECT "+uploadColumns+" FROM uploads WHERE analytic_link = $1", link))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

// RecordGrant atomically checks the download ceiling and inserts the access
// event for one granted download. The upload row is locked FOR UPDATE so the
// count-then-insert sequence is serialized per record; concurrent attempts
// near the limit cannot both succeed. Returns ErrDownloadsExhausted when the
// ceiling is already reached and ErrUploadNotFound when the link vanished.
func (r *Repository) RecordGrant(ctx context.Context, publicLink string, event *AccessEvent) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var maxDownloads int
	err = tx.QueryRow(ctx,
		"SELECT max_downloads FROM uploads WHERE public_link = $1 FOR UPDATE",
		publicLink,
	).Scan(&maxDownloads)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUploadNotFound
		}
		return fmt.Errorf("failed to lock upload: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM access_events WHERE upload_link = $1",
		publicLink,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count access events: %w", err)
	}

	if count >= maxDownloads {
		return ErrDownloadsExhausted
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO access_events (
			upload_link, os, device_type, browser, country, region, city, time_clicked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		publicLink,
		event.OS,
		event.DeviceType,
		event.Browser,
		event.Country,
		event.Region,
		event.City,
		event.TimeClicked,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert access event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit grant: %w", err)
	}
	return nil
}

// ListEvents returns all access events for an upload, oldest first.
func (r *Repository) ListEvents(ctx context.Context, publicLink string) ([]*AccessEvent, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, upload_link, os, device_type, browser, country, region, city, time_clicked
		FROM access_events
		WHERE upload_link = $1
		ORDER BY time_clicked ASC, id ASC
	`, publicLink)
	if err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}
	defer rows.Close()

	var events []*AccessEvent
	for rows.Next() {
		ev := &AccessEvent{}
		if err := rows.Scan(
			&ev.ID,
			&ev.UploadLink,
			&ev.OS,
			&ev.DeviceType,
			&ev.Browser,
			&ev.Country,
			&ev.Region,
			&ev.City,
			&ev.TimeClicked,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of recorded grants for an upload.
func (r *Repository) CountEvents(ctx context.Context, publicLink string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM access_events WHERE upload_link = $1", publicLink,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count access events: %w", err)
	}
	return count, nil
}

// GetExpired returns all uploads whose expiry time has passed.
func (r *Repository) GetExpired(ctx context.Context) ([]*Upload, error) {
	rows, err := r.db.Pool.Query(ctx,
		"SELECT "+uploadColumns+" FROM uploads WHERE expires_at < NOW()")
	if err != nil {
		return nil, fmt.Errorf("failed to query expired uploads: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired upload: %w", err)
		}
		uploads = append(uploads, upload)
	}
	return uploads, rows.Err()
}

// Reap deletes an expired upload record (its access events cascade) and,
// when no other record still references its content hash, removes the blob
// via deleteBlob. The record delete, the reference check, and the blob
// removal run in one transaction holding the same per-hash advisory lock the
// Create path takes, so a concurrent identical upload cannot reuse a
// file_ref whose bytes are being deleted.
//
// If the commit fails after the blob is gone, the surviving record points at
// nothing until the next sweep reaps it again; DeleteContent on an absent
// blob is a no-op.
func (r *Repository) Reap(ctx context.Context, upload *Upload, deleteBlob func() error) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", upload.FileHash); err != nil {
		return fmt.Errorf("failed to take content lock: %w", err)
	}

	tag, err := tx.Exec(ctx, "DELETE FROM uploads WHERE public_link = $1", upload.PublicLink)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUploadNotFound
	}

	// Sees the delete above, so the reaped record no longer counts.
	var inUse bool
	err = tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM uploads WHERE file_hash = $1)",
		upload.FileHash,
	).Scan(&inUse)
	if err != nil {
		return fmt.Errorf("failed to check hash references: %w", err)
	}

	if !inUse {
		if err := deleteBlob(); err != nil {
			return fmt.Errorf("failed to delete blob: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reap: %w", err)
	}
	return nil
}

// GetStats returns aggregate server statistics. Storage usage counts each
// distinct content hash once, since identical uploads share one blob.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM uploads),
			(SELECT COUNT(*) FROM uploads WHERE expires_at > NOW()),
			(SELECT COUNT(*) FROM access_events),
			(SELECT COALESCE(SUM(size), 0) FROM (
				SELECT DISTINCT file_hash, size FROM uploads WHERE expires_at > NOW()
			) blobs)
	`).Scan(
		&stats.TotalUploads,
		&stats.ActiveUploads,
		&stats.TotalAccesses,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

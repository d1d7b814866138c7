package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is a content-addressed blob store. References returned by Save are
// relative paths of the form <contentHash>/<fileName>, so different-content
// files sharing a display name can never collide, and identical bytes always
// resolve to one physical location.
//
// This allows swapping the filesystem for S3 or another backend later.
type Store interface {
	Save(contentHash, fileName string, data io.Reader) (ref string, written int64, err error)
	GetPath(ref string) (string, error)
	DeleteContent(contentHash string) error
	EnsureDir() error
}

// FileSystemStore keeps blobs on the local filesystem under one directory
// per content hash.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data under <contentHash>/<fileName> and returns that reference.
//
// Save is idempotent per content hash: if the blob already exists the
// existing reference is returned without reading data or writing anything.
// New blobs are written to a staging file first and renamed into place, so a
// concurrent identical upload observes either nothing or the complete blob,
// never a partial write.
func (fs *FileSystemStore) Save(contentHash, fileName string, data io.Reader) (string, int64, error) {
	ref := filepath.Join(contentHash, fileName)
	finalPath := filepath.Join(fs.basePath, ref)

	if info, err := os.Stat(finalPath); err == nil {
		return ref, info.Size(), nil
	}

	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create content directory %s: %w", dir, err)
	}

	stagingPath := filepath.Join(dir, ".staging-"+uuid.NewString())
	file, err := os.Create(stagingPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create staging file: %w", err)
	}

	n, err := io.Copy(file, data)
	if err != nil {
		file.Close()
		os.Remove(stagingPath)
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(stagingPath)
		return "", 0, fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		os.Remove(stagingPath)
		return "", 0, fmt.Errorf("failed to publish blob: %w", err)
	}

	return ref, n, nil
}

// GetPath returns the absolute path for a stored reference.
// Returns an error if the blob does not exist.
func (fs *FileSystemStore) GetPath(ref string) (string, error) {
	path := filepath.Join(fs.basePath, filepath.Clean(ref))

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("blob not found for ref %s", ref)
		}
		return "", fmt.Errorf("failed to stat blob: %w", err)
	}

	return path, nil
}

// DeleteContent removes every blob stored under a content hash.
func (fs *FileSystemStore) DeleteContent(contentHash string) error {
	dir := filepath.Join(fs.basePath, contentHash)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete content %s: %w", contentHash, err)
	}
	return nil
}

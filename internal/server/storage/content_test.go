package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("writes blob under hash directory", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		ref, n, err := store.Save("abc123", "notes.txt", bytes.NewReader([]byte("test content")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if ref != filepath.Join("abc123", "notes.txt") {
			t.Errorf("unexpected ref %q", ref)
		}
		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		content, err := os.ReadFile(filepath.Join(dir, "abc123", "notes.txt"))
		if err != nil {
			t.Fatalf("failed to read saved blob: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("save is idempotent per hash", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		ref1, _, err := store.Save("deadbeef", "a.txt", bytes.NewReader([]byte("same bytes")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Second save of the same content must not rewrite the blob. The
		// reader content is deliberately different to prove it's ignored.
		ref2, n, err := store.Save("deadbeef", "a.txt", bytes.NewReader([]byte("DIFFERENT")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if ref1 != ref2 {
			t.Errorf("expected same ref, got %q and %q", ref1, ref2)
		}
		if n != int64(len("same bytes")) {
			t.Errorf("expected existing size %d, got %d", len("same bytes"), n)
		}

		content, _ := os.ReadFile(filepath.Join(dir, "deadbeef", "a.txt"))
		if string(content) != "same bytes" {
			t.Errorf("blob was overwritten: %q", content)
		}
	})

	t.Run("same name different hash do not collide", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		ref1, _, err := store.Save("hashone", "report.pdf", bytes.NewReader([]byte("v1")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ref2, _, err := store.Save("hashtwo", "report.pdf", bytes.NewReader([]byte("v2")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if ref1 == ref2 {
			t.Fatalf("expected distinct refs for distinct hashes, both %q", ref1)
		}
	})

	t.Run("no staging files left behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if _, _, err := store.Save("cafe", "b.bin", bytes.NewReader([]byte("data"))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entries, err := os.ReadDir(filepath.Join(dir, "cafe"))
		if err != nil {
			t.Fatalf("failed to list content dir: %v", err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".staging-") {
				t.Errorf("staging file left behind: %s", e.Name())
			}
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		_, n, err := store.Save("bighash", "large.bin", bytes.NewReader([]byte(largeContent)))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})
}

func TestFileSystemStore_GetPath(t *testing.T) {
	t.Run("returns path for existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		ref, _, err := store.Save("abc", "f.txt", bytes.NewReader([]byte("hi")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		path, err := store.GetPath(ref)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("returned path not usable: %v", err)
		}
	})

	t.Run("errors for missing blob", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		if _, err := store.GetPath("nope/missing.txt"); err == nil {
			t.Error("expected error for missing blob")
		}
	})
}

func TestFileSystemStore_DeleteContent(t *testing.T) {
	t.Run("removes all blobs for a hash", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		ref, _, err := store.Save("gone", "f.txt", bytes.NewReader([]byte("bye")))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := store.DeleteContent("gone"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := store.GetPath(ref); err == nil {
			t.Error("expected blob to be gone")
		}
	})

	t.Run("deleting absent hash is not an error", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		if err := store.DeleteContent("never-existed"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

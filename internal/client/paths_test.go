package client

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCollectFiles(t *testing.T) {
	t.Run("returns regular files as-is", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "a.txt")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}

		files, err := CollectFiles([]string{path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 1 || files[0] != path {
			t.Errorf("unexpected result: %v", files)
		}
	})

	t.Run("walks directories recursively", func(t *testing.T) {
		dir := t.TempDir()
		sub := filepath.Join(dir, "nested")
		if err := os.MkdirAll(sub, 0755); err != nil {
			t.Fatalf("failed to create fixture dir: %v", err)
		}
		for _, name := range []string{filepath.Join(dir, "top.txt"), filepath.Join(sub, "deep.txt")} {
			if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
				t.Fatalf("failed to write fixture: %v", err)
			}
		}

		files, err := CollectFiles([]string{dir})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(files) != 2 {
			t.Errorf("expected 2 files, got %v", files)
		}
	})

	t.Run("errors on missing path", func(t *testing.T) {
		_, err := CollectFiles([]string{"/does/not/exist"})
		if err == nil {
			t.Fatal("expected error")
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError, got %T", err)
		}
	})

	t.Run("errors on empty args", func(t *testing.T) {
		if _, err := CollectFiles(nil); err == nil {
			t.Error("expected error")
		}
	})
}

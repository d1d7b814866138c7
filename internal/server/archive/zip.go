package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Input is one file destined for a combined archive.
type Input struct {
	Name string
	Data io.Reader
}

// Combine packs multiple inputs into a single ZIP byte stream and returns a
// display name for the archive. Entry names are flattened to their base name;
// duplicates get a numeric suffix so no entry is silently overwritten.
func Combine(inputs []Input) (string, []byte, error) {
	if len(inputs) == 0 {
		return "", nil, fmt.Errorf("no files to combine")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	seen := make(map[string]int)
	for _, in := range inputs {
		name := entryName(in.Name, seen)
		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			return "", nil, fmt.Errorf("failed to create zip entry %s: %w", name, err)
		}
		if _, err := io.Copy(w, in.Data); err != nil {
			zw.Close()
			return "", nil, fmt.Errorf("failed to write zip entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to close zip writer: %w", err)
	}

	archiveName := fmt.Sprintf("ember-%s.zip", time.Now().UTC().Format("20060102-150405"))
	return archiveName, buf.Bytes(), nil
}

func entryName(raw string, seen map[string]int) string {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = filepath.Base(name)
	if name == "" || name == "." || name == "/" {
		name = "file"
	}

	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}

	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}

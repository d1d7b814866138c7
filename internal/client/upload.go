// Package client implements the HTTP client used by the ember CLI to talk
// to an ember server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options are the upload constraints sent alongside the files.
type Options struct {
	Password     string
	ExpiresAt    time.Time // zero value means server default
	MaxDownloads int       // zero means server default
}

// Result mirrors the server's upload response.
type Result struct {
	PublicLink   string    `json:"public_link"`
	AnalyticLink string    `json:"analytic_link"`
	PublicURL    string    `json:"public_url"`
	AnalyticURL  string    `json:"analytic_url"`
	FileName     string    `json:"file_name"`
	Size         int64     `json:"size"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxDownloads int       `json:"max_downloads"`
}

// Upload sends the given files to the server as one multipart request and
// returns the minted link pair.
func Upload(ctx context.Context, serverURL string, paths []string, opts Options) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	for _, path := range paths {
		if err := addFilePart(mw, path); err != nil {
			return nil, err
		}
	}

	if opts.Password != "" {
		if err := mw.WriteField("password", opts.Password); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if !opts.ExpiresAt.IsZero() {
		if err := mw.WriteField("expires_at", opts.ExpiresAt.Format(time.RFC3339)); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if opts.MaxDownloads > 0 {
		if err := mw.WriteField("max_downloads", strconv.Itoa(opts.MaxDownloads)); err != nil {
			return nil, fmt.Errorf("failed to write form field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := strings.TrimRight(serverURL, "/") + "/api/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func addFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file for %s: %w", path, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server rejected upload (%s): %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("server rejected upload: %s", resp.Status)
}

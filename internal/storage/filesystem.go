package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"papercut/internal/domain"
)

// FileStore publishes artifacts onto the local filesystem and serves them
// under /static/. It is intended for development and air-gapped deployments
// where the remote storage service is not reachable.
type FileStore struct {
	basePath  string
	publicURL string
	now       func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath whose files are
// reachable at publicBaseURL + "/static/".
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicBaseURL, "/"),
		now:       time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data under generated/<yyyy>/<mm>/<dd>/<name> and returns its
// public URL.
func (s *FileStore) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	day := s.now().UTC().Format("2006/01/02")
	key, err := s.Write(ctx, path.Join("generated", day, path.Base(filepath.ToSlash(name))), data)
	if err != nil {
		return "", &domain.UpstreamError{Kind: domain.ErrPublication, Err: err}
	}
	return s.publicURL + "/static/" + escapeKey(key), nil
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// Handler serves published files. Mount it under /static/.
func (s *FileStore) Handler() http.Handler {
	return http.StripPrefix("/static/", http.FileServer(http.Dir(s.basePath)))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

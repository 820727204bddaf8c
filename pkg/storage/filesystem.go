package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// FilesystemBackend stores audio files under a local directory. Locations are
// returned as /storage/<key> paths served by the reporting layer's static
// file mount.
type FilesystemBackend struct {
	logger *logrus.Entry
	root   string
}

// NewFilesystemBackend creates a backend rooted at dir.
func NewFilesystemBackend(logger *logrus.Logger, dir string) *FilesystemBackend {
	return &FilesystemBackend{
		logger: logger.WithField("component", "filesystem_backend"),
		root:   dir,
	}
}

// Name identifies the backend in logs and metrics.
func (b *FilesystemBackend) Name() string {
	return "filesystem"
}

// Ping ensures the storage root exists.
func (b *FilesystemBackend) Ping(_ context.Context) error {
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", b.root, err)
	}
	return nil
}

// Put writes the file and returns its static-mount location.
func (b *FilesystemBackend) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	path := filepath.Join(b.root, filepath.Base(key))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return "/storage/" + filepath.Base(key), nil
}

// Get reads the file bytes.
func (b *FilesystemBackend) Get(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(b.root, filepath.Base(key))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the file; a missing file is not an error.
func (b *FilesystemBackend) Delete(_ context.Context, key string) (bool, error) {
	path := filepath.Join(b.root, filepath.Base(key))
	err := os.Remove(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return true, nil
}

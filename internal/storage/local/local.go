// Package local implements the local filesystem storage backend. It suits development
// and single-node deployments. Several server instances sharing one archive need a
// shared filesystem or a cloud backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/cct-registry/cct-registry/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local)
	})
}

// LocalStorage implements the Storage interface for local filesystem storage
type LocalStorage struct {
	basePath string
}

// New creates a new local filesystem storage backend, creating base_path if needed
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: filepath.Clean(cfg.BasePath)}, nil
}

// resolve maps a storage path onto the filesystem, refusing paths that would land
// outside basePath
func (s *LocalStorage) resolve(path string) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(path))
	if fullPath != s.basePath && !strings.HasPrefix(fullPath, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path: %s", path)
	}
	return fullPath, nil
}

// Upload writes to a temporary file next to the target and renames it into place,
// so readers never observe a partially written object
func (s *LocalStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // nolint:errcheck

	counter := &countingWriter{w: tmp}
	sum, err := checksum.CalculateSHA256(io.TeeReader(reader, counter))
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     counter.n,
		Checksum: sum,
	}, nil
}

// Download retrieves a file from the local filesystem
func (s *LocalStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Exists checks if a file exists at the specified path
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// Delete removes a file and any parent directories it leaves empty
func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	dir := filepath.Dir(fullPath)
	for dir != s.basePath {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}

	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Package gcs implements the Google Cloud Storage backend for sale event archives.
// It authenticates with a service account key file when one is configured and with
// Application Default Credentials otherwise. A custom endpoint targets a GCS emulator.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/cct-registry/cct-registry/internal/config"
	appstorage "github.com/cct-registry/cct-registry/internal/storage"
	"github.com/cct-registry/cct-registry/pkg/checksum"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Storage.GCS)
	})
}

// GCSStorage implements the Storage interface for Google Cloud Storage
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// New creates a new Google Cloud Storage backend
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.Endpoint != "":
		// Emulators accept unauthenticated requests.
		opts = append(opts, option.WithoutAuthentication())
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Upload stores an object with its checksum in object metadata
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*appstorage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	sum := checksum.SumBytes(data)

	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	writer.Metadata = map[string]string{"sha256": sum}

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return &appstorage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

// Download retrieves an object from GCS
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}

	return reader, nil
}

// Exists checks if an object exists at the specified path
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := s.client.Bucket(s.bucket).Object(path).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}

	return true, nil
}

// Delete removes an object. A missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	if err := s.client.Bucket(s.bucket).Object(path).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

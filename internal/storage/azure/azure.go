// Package azure implements the Azure Blob Storage backend for sale event archives.
// Segments are stored as block blobs in a single container, with their SHA-256 kept
// in the sha256 blob metadata key.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/cct-registry/cct-registry/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements the Storage interface for Azure Blob Storage
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

// New creates a new Azure Blob Storage backend using shared key credentials
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{client: client, containerName: cfg.ContainerName}, nil
}

// Upload stores a block blob with its checksum in blob metadata
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	sum := checksum.SumBytes(data)

	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(path)
	_, err = blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{"sha256": &sum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

// Download retrieves a blob from Azure Blob Storage
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(path)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}

	return resp.Body, nil
}

// Exists checks if a blob exists at the specified path
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(path)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}

	return true, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(path)

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}

	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

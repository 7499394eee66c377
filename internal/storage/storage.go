// Package storage defines the interface that sealed sale event archives are written
// through, and the registry of backends that implement it.
//
// Each backend registers itself from an init() function in its own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports every backend so the registrations run before NewStorage
// is called.
package storage

import (
	"context"
	"io"
)

// Storage is a flat object store keyed by slash-separated paths
type Storage interface {
	// Upload stores the contents of reader at path and reports the SHA-256 of what
	// was written. An existing object at path is replaced.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object at path. The caller closes the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an object is stored at path
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	// Path is the storage path where the object was stored
	Path string

	// Size is the object size in bytes
	Size int64

	// Checksum is the hex SHA-256 of the object contents
	Checksum string
}

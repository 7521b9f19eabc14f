// Package storage provides object storage backends for archiving copies of
// the durable census store after successful ingestion runs.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the archive backend. Implementations include S3
// and a local filesystem directory.
type ObjectStorage interface {
	// Upload copies a local file to objectPath in the archive.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies an archived object back to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists reports whether an object exists in the archive.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Delete removes an object from the archive. Deleting a missing object
	// is not an error.
	Delete(ctx context.Context, objectPath string) error

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Package storage provides object storage abstractions used when merge inputs
// are read from, and outputs written to, a bucket instead of the local disk.
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

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	// Key is the object path within the store.
	Key string
	// SizeBytes is the object size.
	SizeBytes int64
}

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and a local directory for testing.
type ObjectStorage interface {
	// Upload uploads a file to object storage.
	// localPath is the path to the local file to upload.
	// objectPath is the destination path in object storage.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads using multipart for large files.
	// Returns the ETag of the uploaded object.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download downloads a file from object storage.
	// objectPath is the source path in object storage.
	// localPath is the destination path on the local filesystem.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object from storage. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// Stat returns the object's metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// ListObjects returns all objects under the given prefix in lexical key order.
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 64MB).
	PartSize int64
	// Concurrency is the number of concurrent part uploads (default: 5).
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
// Merged outputs are typically tens of gigabytes, so parts are larger than
// the S3 minimum to stay well below the 10,000 part cap.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize:    64 * 1024 * 1024,
		Concurrency: 5,
	}
}

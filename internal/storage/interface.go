package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a listed object. Name is the key inside its bucket.
type ObjectInfo struct {
	Bucket       string
	Name         string
	Size         int64
	LastModified time.Time
}

// Path returns the bucket/name address of the object.
func (o ObjectInfo) Path() string {
	return JoinPath(o.Bucket, o.Name)
}

// ObjectStorage defines the interface for object storage operations.
// Every path is addressed as "bucket/key"; the first segment names the bucket.
type ObjectStorage interface {
	// List returns the objects whose key starts with the prefix part of path
	List(ctx context.Context, path string) ([]ObjectInfo, error)

	// Exists checks if an object exists
	Exists(ctx context.Context, path string) (bool, error)

	// Download downloads an object from storage
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Upload uploads an object to storage
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error

	// Delete deletes an object from storage
	Delete(ctx context.Context, path string) error

	// GetURL returns the URL for accessing an object
	GetURL(path string) string
}

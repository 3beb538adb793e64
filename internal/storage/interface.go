package storage

import (
	"context"
	"io"
)

// ObjectStorage is the blob store used for catalog snapshots.
type ObjectStorage interface {
	// Upload stores size bytes from reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object stored under key. Callers close the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL of key.
	GetURL(key string) string

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// BatchDeleter is implemented by backends that remove many keys per call.
type BatchDeleter interface {
	DeleteKeys(ctx context.Context, keys []string) error
}

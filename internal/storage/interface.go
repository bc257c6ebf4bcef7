package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists at a path
var ErrNotFound = errors.New("object not found")

// BlobStorage is a flat object namespace addressed by slash-separated paths.
// Implementations must be safe for concurrent use.
type BlobStorage interface {
	// Store writes content at path, replacing any existing object
	Store(ctx context.Context, path string, content io.Reader, contentType string) error

	// Retrieve opens the object at path; the caller closes the reader
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path; missing objects are not an error
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of the object at path
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns every object path starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Move relocates the object at src to dst. After success the object is
	// only visible at dst.
	Move(ctx context.Context, src, dst string) error
}

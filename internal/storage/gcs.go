package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
)

// GCSStorage implements BlobStorage on a Cloud Storage bucket
type GCSStorage struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGCSStorage opens a client with application default credentials
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	log.Info().Str("bucket", bucket).Msg("gcs storage initialized")
	return &GCSStorage{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
	}, nil
}

// Close releases the underlying client
func (gs *GCSStorage) Close() error {
	return gs.client.Close()
}

// Store uploads content in a single request
func (gs *GCSStorage) Store(ctx context.Context, path string, content io.Reader, contentType string) error {
	startTime := time.Now()

	w := gs.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	// Bundles are small; skip resumable upload sessions
	w.ChunkSize = 0

	written, err := io.Copy(w, content)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to upload gs://%s/%s: %w", gs.name, path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gs://%s/%s: %w", gs.name, path, err)
	}

	log.Debug().
		Str("path", path).
		Str("content_type", contentType).
		Int64("bytes_written", written).
		Dur("duration", time.Since(startTime)).
		Msg("object stored")
	return nil
}

// Retrieve opens a reader on the object
func (gs *GCSStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := gs.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", gs.name, path, err)
	}
	return r, nil
}

// Delete removes the object
func (gs *GCSStorage) Delete(ctx context.Context, path string) error {
	if err := gs.bucket.Object(path).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", gs.name, path, err)
	}
	return nil
}

// Exists checks object attributes
func (gs *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := gs.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat gs://%s/%s: %w", gs.name, path, err)
	}
	return true, nil
}

// GetSize returns the object size from its attributes
func (gs *GCSStorage) GetSize(ctx context.Context, path string) (int64, error) {
	attrs, err := gs.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("failed to stat gs://%s/%s: %w", gs.name, path, err)
	}
	return attrs.Size, nil
}

// List pages through every object under prefix
func (gs *GCSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	it := gs.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})

	paths := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list gs://%s/%s: %w", gs.name, prefix, err)
		}
		paths = append(paths, attrs.Name)
	}
	return paths, nil
}

// Move copies src to dst server-side and then deletes src. A failed delete
// leaves the object at both paths and is reported.
func (gs *GCSStorage) Move(ctx context.Context, src, dst string) error {
	srcObj := gs.bucket.Object(src)
	if _, err := gs.bucket.Object(dst).CopierFrom(srcObj).Run(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return fmt.Errorf("failed to copy gs://%s/%s to %s: %w", gs.name, src, dst, err)
	}
	if err := srcObj.Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("copied but failed to delete gs://%s/%s: %w", gs.name, src, err)
	}
	return nil
}

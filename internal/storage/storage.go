package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore defines the minimal object operations the pipeline needs.
type ObjectStore interface {
	// Get returns a reader for the given URI (s3://bucket/key or file://path).
	Get(ctx context.Context, uri string) (io.ReadCloser, int64, error)
	// Put writes content to the given URI (s3://bucket/key); returns final URI.
	Put(ctx context.Context, uri string, body io.Reader, contentType string) (string, error)
	// List returns objects under the given URI prefix.
	List(ctx context.Context, uri string) ([]ObjectInfo, error)
}

// GetBytes reads an entire object into memory.
func GetBytes(ctx context.Context, s ObjectStore, uri string) ([]byte, error) {
	rc, _, err := s.Get(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

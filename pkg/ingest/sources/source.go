// Package sources provides the inputs an import reads from: local files,
// glob patterns, S3 objects, HTTP URLs, stdin and in-memory buffers.
package sources

import (
	"context"
	"io"
)

// Source is one input. Each Source is imported with its own ordering
// counter.
type Source interface {
	// ID returns a unique identifier for this source.
	ID() string

	// Location returns the source location (path, URL, etc.).
	Location() string

	// Size returns the size in bytes, or -1 if unknown.
	Size() int64

	// Open returns a reader for the source content.
	Open(ctx context.Context) (io.ReadCloser, error)
}

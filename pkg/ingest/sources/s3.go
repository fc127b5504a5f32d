package sources

import (
	"context"
	"fmt"
	"io"
	"strings"

	s3store "github.com/logflow/jsonimport/pkg/storage/s3"
)

// ObjectStore is the part of the S3 client used by S3 sources.
type ObjectStore interface {
	ReaderFromBucket(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
	ListAll(ctx context.Context, bucket, prefix string) ([]s3store.ObjectInfo, error)
}

// S3Source reads one object.
type S3Source struct {
	store  ObjectStore
	bucket string
	key    string
	size   int64
}

// NewS3Source creates a source for s3://bucket/key.
func NewS3Source(store ObjectStore, bucket, key string, size int64) *S3Source {
	return &S3Source{store: store, bucket: bucket, key: key, size: size}
}

func (s *S3Source) ID() string       { return s3store.Scheme + s.bucket + "/" + s.key }
func (s *S3Source) Location() string { return s.ID() }
func (s *S3Source) Size() int64      { return s.size }

// Open starts the download.
func (s *S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, size, err := s.store.ReaderFromBucket(ctx, s.bucket, s.key)
	if err != nil {
		return nil, err
	}
	s.size = size
	return rc, nil
}

// ExpandS3 turns an s3:// URL into sources. A URL ending in "/" or with an
// empty key is a prefix and expands to every object beneath it, in key
// order.
func ExpandS3(ctx context.Context, store ObjectStore, rawURL string) ([]Source, error) {
	bucket, key, err := s3store.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	if key != "" && !strings.HasSuffix(key, "/") {
		return []Source{NewS3Source(store, bucket, key, -1)}, nil
	}

	objects, err := store.ListAll(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no objects under %s", rawURL)
	}

	out := make([]Source, 0, len(objects))
	for _, obj := range objects {
		out = append(out, NewS3Source(store, obj.Bucket, obj.Key, obj.Size))
	}
	return out, nil
}

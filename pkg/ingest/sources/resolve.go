package sources

import (
	"context"
	"fmt"
	"log/slog"

	s3store "github.com/logflow/jsonimport/pkg/storage/s3"
)

// Resolver expands input names into sources.
type Resolver struct {
	// S3 opens the object store on first use of an s3:// input.
	S3 func(ctx context.Context) (ObjectStore, error)

	// HTTP configures http(s) inputs.
	HTTP *HTTPSourceOptions

	Logger *slog.Logger

	store ObjectStore
}

// Resolve expands each input in order. "-" is stdin, s3:// and http(s)://
// URLs are remote, glob patterns expand to their matches, and anything
// else is a local path. Missing local paths are logged and kept, so the
// import reports them when it reaches them.
func (r *Resolver) Resolve(ctx context.Context, inputs []string) ([]Source, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var out []Source
	for _, in := range inputs {
		switch {
		case in == StdinName:
			out = append(out, NewStdinSource())

		case s3store.IsURL(in):
			store, err := r.objectStore(ctx)
			if err != nil {
				return nil, err
			}
			srcs, err := ExpandS3(ctx, store, in)
			if err != nil {
				return nil, err
			}
			out = append(out, srcs...)

		case IsHTTPURL(in):
			src, err := NewHTTPSource(in, r.HTTP)
			if err != nil {
				return nil, err
			}
			out = append(out, src)

		case IsGlob(in):
			g, err := NewGlobSource(in)
			if err != nil {
				logger.Warn("input pattern matched nothing", "pattern", in)
				continue
			}
			out = append(out, g.Sources()...)

		default:
			src := NewFileSource(in)
			if !src.Exists() {
				logger.Warn("input path does not exist", "path", in)
			}
			out = append(out, src)
		}
	}
	return out, nil
}

func (r *Resolver) objectStore(ctx context.Context) (ObjectStore, error) {
	if r.store != nil {
		return r.store, nil
	}
	if r.S3 == nil {
		return nil, fmt.Errorf("s3 inputs are not configured")
	}
	store, err := r.S3(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	r.store = store
	return store, nil
}

package sources

import (
	"context"
	"io"
	"os"
)

// StdinName is the input name that selects standard input.
const StdinName = "-"

// StreamSource wraps an io.Reader as a Source.
type StreamSource struct {
	id     string
	reader io.Reader
}

// NewStreamSource creates a source from an io.Reader.
func NewStreamSource(id string, reader io.Reader) *StreamSource {
	return &StreamSource{id: id, reader: reader}
}

// NewStdinSource reads the import from standard input.
func NewStdinSource() *StreamSource {
	return NewStreamSource("<stdin>", os.Stdin)
}

func (s *StreamSource) ID() string       { return s.id }
func (s *StreamSource) Location() string { return "stream://" + s.id }
func (s *StreamSource) Size() int64      { return -1 }

// Open returns the reader (can only be called once). The underlying reader
// is never closed.
func (s *StreamSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(s.reader), nil
}

package sources

import (
	"bytes"
	"context"
	"io"
)

// MemorySource provides data from memory (for testing).
type MemorySource struct {
	id   string
	data []byte
}

// NewMemorySource creates a source from bytes.
func NewMemorySource(id string, data []byte) *MemorySource {
	return &MemorySource{id: id, data: data}
}

func (m *MemorySource) ID() string       { return m.id }
func (m *MemorySource) Location() string { return "memory://" + m.id }
func (m *MemorySource) Size() int64      { return int64(len(m.data)) }

// Open returns a reader for the data.
func (m *MemorySource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

package sources

import (
	"context"
	"io"
	"os"
)

// FileSource implements Source for local files.
type FileSource struct {
	path string
}

// NewFileSource creates a file source. The file is not touched until Open,
// so a missing file surfaces as an error from the import itself.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) ID() string       { return f.path }
func (f *FileSource) Location() string { return f.path }

// Size returns the current file size, or -1 if it cannot be read.
func (f *FileSource) Size() int64 {
	info, err := os.Stat(f.path)
	if err != nil {
		return -1
	}
	return info.Size()
}

// Exists reports whether the file is present.
func (f *FileSource) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Open returns a reader for the file.
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

package sources

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// IsGlob reports whether pattern contains glob metacharacters.
func IsGlob(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// GlobSource provides multiple files matching a pattern. Patterns may use
// ** to match any number of directories.
type GlobSource struct {
	pattern string
	sources []*FileSource
}

// NewGlobSource expands pattern against the filesystem.
func NewGlobSource(pattern string) (*GlobSource, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match pattern: %s", pattern)
	}

	// Sort for deterministic ordering
	sort.Strings(matches)

	sources := make([]*FileSource, 0, len(matches))
	for _, path := range matches {
		sources = append(sources, NewFileSource(path))
	}

	return &GlobSource{
		pattern: pattern,
		sources: sources,
	}, nil
}

// Sources returns all matched sources.
func (g *GlobSource) Sources() []Source {
	result := make([]Source, len(g.sources))
	for i, s := range g.sources {
		result[i] = s
	}
	return result
}

// Count returns number of sources.
func (g *GlobSource) Count() int {
	return len(g.sources)
}

// Pattern returns the glob pattern.
func (g *GlobSource) Pattern() string {
	return g.pattern
}

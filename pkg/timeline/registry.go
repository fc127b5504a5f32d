// Package timeline maps timeline signatures to timeline ids.
//
// Identity is decided by the signature alone: the same (key, value) pair
// always resolves to the same id within a run, and distinct pairs never
// share an id.
package timeline

import (
	"context"
	"sync"

	"github.com/logflow/jsonimport/internal/model"
)

// Resolver resolves a signature to its timeline id, allocating one on
// first sight.
type Resolver interface {
	ResolveOrCreate(ctx context.Context, sig model.Signature) (model.TimelineID, error)
}

// Store is a shared backing store consulted when the local map misses.
// Implementations must be atomic: when two callers race with different
// candidates for the same signature, both must get the same winner back.
type Store interface {
	ResolveOrCreate(ctx context.Context, sig string, candidate model.TimelineID) (model.TimelineID, error)
}

// Registry is a process-wide, append-only signature to id map. It is safe
// for concurrent use by importers working on different inputs.
type Registry struct {
	mu    sync.Mutex
	ids   map[string]model.TimelineID
	store Store
	alloc func() model.TimelineID
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore makes the registry agree on ids with other processes through s.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithAllocator replaces the random id allocator.
func WithAllocator(fn func() model.TimelineID) Option {
	return func(r *Registry) { r.alloc = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		ids:   make(map[string]model.TimelineID),
		alloc: model.NewTimelineID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveOrCreate returns the id for sig, allocating it on first use.
func (r *Registry) ResolveOrCreate(ctx context.Context, sig model.Signature) (model.TimelineID, error) {
	key := sig.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.ids[key]; ok {
		return id, nil
	}

	id := r.alloc()
	if r.store != nil {
		var err error
		id, err = r.store.ResolveOrCreate(ctx, key, id)
		if err != nil {
			return model.TimelineID{}, err
		}
	}

	r.ids[key] = id
	return id, nil
}

// Len returns the number of known timelines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

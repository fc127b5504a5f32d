// Package memory implements an in-process recording sink used for dry runs
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

// Op identifies a recorded sink call.
type Op string

const (
	OpOpenTimeline Op = "open_timeline"
	OpDeclareKey   Op = "declare_key"
	OpMetadata     Op = "timeline_metadata"
	OpEvent        Op = "event"
)

// Call is one recorded sink call with keys resolved back to strings.
type Call struct {
	Op       Op
	Timeline model.TimelineID
	Key      string
	Ordering model.Ordering
	Attrs    model.KVs
}

// Store records calls from any number of sessions.
type Store struct {
	mu     sync.Mutex
	keys   []string
	handle map[string]sink.KeyHandle
	calls  []Call
	fail   map[Op]error
	closed int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		handle: make(map[string]sink.KeyHandle),
		fail:   make(map[Op]error),
	}
}

// Open implements sink.Factory.
func (s *Store) Open(context.Context) (sink.Sink, error) {
	return s.Session(), nil
}

// Session returns a new session recording into s.
func (s *Store) Session() *Session {
	return &Session{store: s}
}

// FailOn makes every later call of kind op return err. A nil err clears it.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Calls returns a copy of every recorded call in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsOf returns the recorded calls of one kind.
func (s *Store) CallsOf(op Op) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Events returns the recorded events.
func (s *Store) Events() []Call {
	return s.CallsOf(OpEvent)
}

// Keys returns the declared keys in handle order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Closed returns how many sessions were closed.
func (s *Store) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) resolve(attrs []sink.KeyedValue) model.KVs {
	kvs := make(model.KVs, 0, len(attrs))
	for _, a := range attrs {
		key := "<unknown>"
		if int(a.Key) < len(s.keys) {
			key = s.keys[a.Key]
		}
		kvs = append(kvs, model.KV{Key: key, Value: a.Value})
	}
	return kvs
}

// Session is a single sink session. It is not safe for concurrent use.
type Session struct {
	store   *Store
	current *model.TimelineID
}

var _ sink.Sink = (*Session)(nil)

// OpenTimeline implements sink.Sink.
func (s *Session) OpenTimeline(_ context.Context, id model.TimelineID) error {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.fail[OpOpenTimeline]; err != nil {
		return err
	}
	s.current = &id
	st.calls = append(st.calls, Call{Op: OpOpenTimeline, Timeline: id})
	return nil
}

// DeclareKey implements sink.Sink. Repeated keys return the same handle.
func (s *Session) DeclareKey(_ context.Context, key string) (sink.KeyHandle, error) {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.fail[OpDeclareKey]; err != nil {
		return 0, err
	}
	st.calls = append(st.calls, Call{Op: OpDeclareKey, Key: key})

	if h, ok := st.handle[key]; ok {
		return h, nil
	}
	h := sink.KeyHandle(len(st.keys))
	st.keys = append(st.keys, key)
	st.handle[key] = h
	return h, nil
}

// SetTimelineMetadata implements sink.Sink.
func (s *Session) SetTimelineMetadata(_ context.Context, attrs []sink.KeyedValue) error {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.fail[OpMetadata]; err != nil {
		return err
	}
	if s.current == nil {
		return sink.ErrNoTimeline
	}
	st.calls = append(st.calls, Call{Op: OpMetadata, Timeline: *s.current, Attrs: st.resolve(attrs)})
	return nil
}

// SendEvent implements sink.Sink.
func (s *Session) SendEvent(_ context.Context, ordering model.Ordering, attrs []sink.KeyedValue) error {
	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.fail[OpEvent]; err != nil {
		return err
	}
	if s.current == nil {
		return sink.ErrNoTimeline
	}
	st.calls = append(st.calls, Call{
		Op:       OpEvent,
		Timeline: *s.current,
		Ordering: ordering,
		Attrs:    st.resolve(attrs),
	})
	return nil
}

// Close implements sink.Sink.
func (s *Session) Close(context.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.closed++
	return nil
}

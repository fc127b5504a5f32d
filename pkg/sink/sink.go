// Package sink defines the downstream service that receives timelines and
// events.
//
// A Sink is a stateful session: OpenTimeline selects the timeline that
// subsequent metadata and event calls apply to. Sessions are not safe for
// concurrent use; parallel importers each get their own from a Factory.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/logflow/jsonimport/internal/model"
)

// KeyHandle is the sink-assigned handle for an interned attribute key.
type KeyHandle uint32

// KeyedValue is an attribute value addressed by interned key.
type KeyedValue struct {
	Key   KeyHandle
	Value model.AttrValue
}

// Sink is the four-call ingestion surface plus Close.
type Sink interface {
	// OpenTimeline makes id the target of later metadata and event calls.
	OpenTimeline(ctx context.Context, id model.TimelineID) error

	// DeclareKey registers a scope-prefixed key and returns its handle.
	DeclareKey(ctx context.Context, key string) (KeyHandle, error)

	// SetTimelineMetadata applies attribute updates to the open timeline.
	SetTimelineMetadata(ctx context.Context, attrs []KeyedValue) error

	// SendEvent appends an event to the open timeline at ordering.
	SendEvent(ctx context.Context, ordering model.Ordering, attrs []KeyedValue) error

	// Close flushes and releases the session.
	Close(ctx context.Context) error
}

// Factory opens sink sessions.
type Factory interface {
	Open(ctx context.Context) (Sink, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Sink, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context) (Sink, error) {
	return f(ctx)
}

// Kind names a sink implementation.
type Kind string

const (
	KindNDJSON  Kind = "ndjson"
	KindParquet Kind = "parquet"
	KindMemory  Kind = "memory"
)

// ParseKind validates a sink kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNDJSON, KindParquet, KindMemory:
		return Kind(s), nil
	case "":
		return KindNDJSON, nil
	default:
		return "", fmt.Errorf("unknown sink kind %q (want ndjson, parquet or memory)", s)
	}
}

// ErrNoTimeline is returned when metadata or events arrive before any
// timeline was opened.
var ErrNoTimeline = errors.New("sink: no open timeline")

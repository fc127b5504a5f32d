package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/telemetry"
)

const (
	timelineScope = "timeline."
	eventScope    = "event."
)

// sentKey addresses one timeline attribute in the last-sent cache.
type sentKey struct {
	timeline model.TimelineID
	key      sink.KeyHandle
}

// Client sends prepared events to one sink session. It renames and interns
// attribute keys, opens timelines as they change, and suppresses timeline
// metadata that was already sent with the same value.
//
// A Client is owned by a single importer and is not safe for concurrent use.
type Client struct {
	sink    sink.Sink
	metrics *telemetry.Metrics
	logger  *slog.Logger

	timelineKeys   map[string]sink.KeyHandle
	eventKeys      map[string]sink.KeyHandle
	renameTimeline map[string]string
	renameEvent    map[string]string

	sent    map[sentKey]model.AttrValue
	current *model.TimelineID
}

// NewClient wraps s. Later renames for the same key override earlier ones.
// metrics may be nil.
func NewClient(s sink.Sink, renameTimeline, renameEvent []Rename, metrics *telemetry.Metrics) *Client {
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Client{
		sink:           s,
		metrics:        metrics,
		logger:         slog.Default(),
		timelineKeys:   make(map[string]sink.KeyHandle),
		eventKeys:      make(map[string]sink.KeyHandle),
		renameTimeline: renameTable(renameTimeline, timelineScope),
		renameEvent:    renameTable(renameEvent, eventScope),
		sent:           make(map[sentKey]model.AttrValue),
	}
}

// WithLogger sets the logger used for debug output.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = l
	return c
}

func renameTable(renames []Rename, scope string) map[string]string {
	m := make(map[string]string, len(renames))
	for _, r := range renames {
		m[normalize(r.Original, scope)] = normalize(r.New, scope)
	}
	return m
}

func normalize(key, scope string) string {
	if strings.HasPrefix(key, scope) {
		return key
	}
	return scope + key
}

// SendEventOnTimeline opens ev's timeline if it is not the current one,
// sends each timeline attribute whose value changed, then sends the event.
func (c *Client) SendEventOnTimeline(ctx context.Context, ev model.PreparedEvent) error {
	if c.current == nil || *c.current != ev.TimelineID {
		if err := c.sink.OpenTimeline(ctx, ev.TimelineID); err != nil {
			return lferrors.SinkFailure("open_timeline", err).
				WithContext("timeline", ev.TimelineID.String())
		}
		id := ev.TimelineID
		c.current = &id
		c.metrics.TimelineOpened()
		c.logger.Debug("opened timeline", "timeline", id.String())
	}

	for _, kv := range ev.TimelineAttrs {
		handle, err := c.intern(ctx, kv.Key, timelineScope, c.timelineKeys, c.renameTimeline)
		if err != nil {
			return err
		}

		k := sentKey{timeline: ev.TimelineID, key: handle}
		if prev, ok := c.sent[k]; ok && prev.Equal(kv.Value) {
			c.metrics.MetadataSuppressed(1)
			continue
		}

		attrs := []sink.KeyedValue{{Key: handle, Value: kv.Value}}
		if err := c.sink.SetTimelineMetadata(ctx, attrs); err != nil {
			return lferrors.SinkFailure("timeline_metadata", err).WithContext("key", kv.Key)
		}
		c.sent[k] = kv.Value
		c.metrics.MetadataSent(1)
	}

	attrs := make([]sink.KeyedValue, 0, len(ev.EventAttrs))
	for _, kv := range ev.EventAttrs {
		handle, err := c.intern(ctx, kv.Key, eventScope, c.eventKeys, c.renameEvent)
		if err != nil {
			return err
		}
		attrs = append(attrs, sink.KeyedValue{Key: handle, Value: kv.Value})
	}

	if err := c.sink.SendEvent(ctx, ev.Ordering, attrs); err != nil {
		return lferrors.SinkFailure("event", err).WithContext("ordering", ev.Ordering.String())
	}
	c.metrics.EventSent()
	return nil
}

// intern returns the sink handle for key in scope, declaring it on first use.
func (c *Client) intern(ctx context.Context, key, scope string, cache map[string]sink.KeyHandle, renames map[string]string) (sink.KeyHandle, error) {
	key = normalize(key, scope)
	if renamed, ok := renames[key]; ok {
		key = renamed
	}

	if h, ok := cache[key]; ok {
		return h, nil
	}

	h, err := c.sink.DeclareKey(ctx, key)
	if err != nil {
		return 0, lferrors.SinkFailure("declare_key", err).WithContext("key", key)
	}
	cache[key] = h
	c.metrics.KeyDeclared()
	c.logger.Debug("declared key", "key", key, "handle", h)
	return h, nil
}

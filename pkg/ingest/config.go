package ingest

import (
	"fmt"
	"strings"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
)

// ClassifyConfig decides which attributes describe the timeline, how the
// timeline and event are named, and how the timestamp is read.
type ClassifyConfig struct {
	// TimelineNames are candidate keys for the timeline identity, tried in
	// order. The first one present becomes the signature.
	TimelineNames []string

	// TimelineAttrs are extra keys routed to the timeline rather than the
	// event.
	TimelineAttrs []string

	// EventNames are candidate keys for the event name, tried in order.
	EventNames []string

	TimelineNamePrefix string
	EventNamePrefix    string

	// TimestampAttr is the event key holding the timestamp, if any.
	TimestampAttr string
	TimestampUnit TimestampUnit

	// RunID, when set, is attached to every timeline as run_id.
	RunID string

	// AdditionalTimelineAttrs are appended to a timeline when the record
	// does not carry the key itself.
	AdditionalTimelineAttrs model.KVs

	// OverrideTimelineAttrs replace the record's value for the key, or are
	// appended when it is absent.
	OverrideTimelineAttrs model.KVs
}

// Validate checks that the config can name timelines.
func (c *ClassifyConfig) Validate() error {
	if len(c.TimelineNames) == 0 {
		return lferrors.InvalidConfig("timeline-names",
			fmt.Errorf("at least one timeline name key is required"))
	}
	if len(c.EventNames) == 0 {
		return lferrors.InvalidConfig("event-names",
			fmt.Errorf("at least one event name key is required"))
	}
	return nil
}

// isTimelineKey reports whether key belongs in the timeline bucket.
func (c *ClassifyConfig) isTimelineKey(key string) bool {
	for _, k := range c.TimelineNames {
		if k == key {
			return true
		}
	}
	for _, k := range c.TimelineAttrs {
		if k == key {
			return true
		}
	}
	return false
}

// TimestampUnit is the unit of the source timestamp attribute.
type TimestampUnit uint8

const (
	UnitNanoseconds TimestampUnit = iota
	UnitMicroseconds
	UnitMilliseconds
	UnitSeconds
)

func (u TimestampUnit) String() string {
	switch u {
	case UnitSeconds:
		return "s"
	case UnitMilliseconds:
		return "ms"
	case UnitMicroseconds:
		return "us"
	default:
		return "ns"
	}
}

// ParseTimestampUnit accepts s, ms, us and ns along with their long
// spellings. The empty string means nanoseconds.
func ParseTimestampUnit(s string) (TimestampUnit, error) {
	switch strings.ToLower(s) {
	case "", "ns", "nanos", "nanoseconds":
		return UnitNanoseconds, nil
	case "us", "micros", "microseconds":
		return UnitMicroseconds, nil
	case "ms", "millis", "milliseconds":
		return UnitMilliseconds, nil
	case "s", "secs", "seconds":
		return UnitSeconds, nil
	default:
		return UnitNanoseconds, fmt.Errorf("unknown timestamp unit %q (want s, ms, us or ns)", s)
	}
}

// Factor returns the multiplier that converts the unit to nanoseconds.
func (u TimestampUnit) Factor() float64 {
	switch u {
	case UnitSeconds:
		return 1e9
	case UnitMilliseconds:
		return 1e6
	case UnitMicroseconds:
		return 1e3
	default:
		return 1
	}
}

// ToNanos converts a numeric timestamp to integer nanoseconds. The value is
// scaled as a float and truncated toward zero.
func (u TimestampUnit) ToNanos(v model.AttrValue) (model.AttrValue, error) {
	f, ok := v.Numeric()
	if !ok {
		return model.AttrValue{}, lferrors.Newf(lferrors.CodeNonNumericTimestamp,
			"found non-numeric value in timestamp field: %s", v).
			WithContext("kind", v.Kind().String())
	}
	return model.BigInteger(model.FloatToInt128(f * u.Factor())), nil
}

// Rename maps an attribute key to the key sent to the sink.
type Rename struct {
	Original string `yaml:"original"`
	New      string `yaml:"new"`
}

// ParseRename parses the "original,new" flag form.
func ParseRename(s string) (Rename, error) {
	original, replacement, ok := strings.Cut(s, ",")
	if !ok {
		return Rename{}, fmt.Errorf("rename %q must have the form original,new", s)
	}
	return Rename{Original: original, New: replacement}, nil
}

package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/parser"
	"github.com/logflow/jsonimport/pkg/timeline"
)

// decodeAll returns every JSON value in buf.
func decodeAll(t *testing.T, buf string) []any {
	t.Helper()
	r := parser.NewReader(buf, parser.ReaderConfig{})
	var out []any
	for {
		step, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, step.Objects...)
	}
}

func decodeOne(t *testing.T, buf string) any {
	t.Helper()
	vals := decodeAll(t, buf)
	require.Len(t, vals, 1)
	return vals[0]
}

func testClassify() ClassifyConfig {
	return ClassifyConfig{
		TimelineNames:      []string{"host"},
		TimelineAttrs:      []string{"region"},
		EventNames:         []string{"msg"},
		TimelineNamePrefix: "tl-",
	}
}

func TestAssembleClassifies(t *testing.T) {
	a := NewAssembler(testClassify(), timeline.NewRegistry())
	extras := []model.KV{{Key: "pid", Value: model.BigIntegerFromInt64(12)}}

	ev, err := a.Assemble(context.Background(),
		decodeOne(t, `{"host":"a","region":"eu","msg":"start","n":{"x":1}}`), extras)
	require.NoError(t, err)

	assert.Equal(t, model.KVs{
		{Key: "host", Value: model.String("a")},
		{Key: "region", Value: model.String("eu")},
		{Key: "name", Value: model.String("tl-a")},
	}, ev.TimelineAttrs)

	assert.Equal(t, model.KVs{
		{Key: "pid", Value: model.BigIntegerFromInt64(12)},
		{Key: "msg", Value: model.String("start")},
		{Key: "n.x", Value: model.Integer(1)},
		{Key: "name", Value: model.String("start")},
	}, ev.EventAttrs)
}

func TestAssembleTimelineCandidatesInOrder(t *testing.T) {
	cfg := ClassifyConfig{TimelineNames: []string{"a", "b"}, EventNames: []string{"e"}}
	reg := timeline.NewRegistry()
	asm := NewAssembler(cfg, reg)

	first, err := asm.Assemble(context.Background(), decodeOne(t, `{"b":"x","e":"go"}`), nil)
	require.NoError(t, err)
	second, err := asm.Assemble(context.Background(), decodeOne(t, `{"a":"x","b":"x","e":"go"}`), nil)
	require.NoError(t, err)

	// Same value under a different key is a different signature.
	assert.NotEqual(t, first.TimelineID, second.TimelineID)
	name, _ := second.TimelineAttrs.Get("name")
	assert.Equal(t, "x", name.String())
}

func TestAssembleTimelineIdentity(t *testing.T) {
	asm := NewAssembler(testClassify(), timeline.NewRegistry())
	ctx := context.Background()

	x1, err := asm.Assemble(ctx, decodeOne(t, `{"host":"X","msg":"a"}`), nil)
	require.NoError(t, err)
	x2, err := asm.Assemble(ctx, decodeOne(t, `{"host":"X","msg":"b"}`), nil)
	require.NoError(t, err)
	y, err := asm.Assemble(ctx, decodeOne(t, `{"host":"Y","msg":"c"}`), nil)
	require.NoError(t, err)

	assert.Equal(t, x1.TimelineID, x2.TimelineID)
	assert.NotEqual(t, x1.TimelineID, y.TimelineID)
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*ClassifyConfig)
		in   string
		code lferrors.Code
	}{
		{"missing timeline", nil, `{"msg":"a"}`, lferrors.CodeMissingTimelineIdentity},
		{"null timeline", nil, `{"host":null,"msg":"a"}`, lferrors.CodeMissingTimelineIdentity},
		{"missing event name", nil, `{"host":"h","other":1}`, lferrors.CodeMissingEventName},
		{"empty event name", nil, `{"host":"h","msg":""}`, lferrors.CodeMissingEventName},
		{"string timestamp", withTimestamp("ts", UnitSeconds), `{"host":"h","msg":"a","ts":"noon"}`, lferrors.CodeNonNumericTimestamp},
		{"bool timestamp", withTimestamp("ts", UnitSeconds), `{"host":"h","msg":"a","ts":true}`, lferrors.CodeNonNumericTimestamp},
		{"not an object", nil, `[1]`, lferrors.CodeMalformedInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testClassify()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			asm := NewAssembler(cfg, timeline.NewRegistry())

			_, err := asm.Assemble(context.Background(), decodeOne(t, tt.in), nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, lferrors.GetCode(err), "got %v", err)
		})
	}
}

func withTimestamp(key string, unit TimestampUnit) func(*ClassifyConfig) {
	return func(c *ClassifyConfig) {
		c.TimestampAttr = key
		c.TimestampUnit = unit
	}
}

func TestAssembleTimestamp(t *testing.T) {
	cfg := testClassify()
	withTimestamp("ts", UnitMilliseconds)(&cfg)
	asm := NewAssembler(cfg, timeline.NewRegistry())

	ev, err := asm.Assemble(context.Background(), decodeOne(t, `{"host":"h","msg":"a","ts":1500}`), nil)
	require.NoError(t, err)

	raw, ok := ev.EventAttrs.Get("ts")
	require.True(t, ok, "raw timestamp is kept")
	assert.Equal(t, model.Integer(1500), raw)

	ns, ok := ev.EventAttrs.Get("timestamp")
	require.True(t, ok)
	assert.Equal(t, model.KindBigInteger, ns.Kind())
	assert.Equal(t, "1500000000", ns.String())
}

func TestAssembleTimestampAbsentIsFine(t *testing.T) {
	cfg := testClassify()
	withTimestamp("ts", UnitSeconds)(&cfg)
	asm := NewAssembler(cfg, timeline.NewRegistry())

	ev, err := asm.Assemble(context.Background(), decodeOne(t, `{"host":"h","msg":"a"}`), nil)
	require.NoError(t, err)
	_, ok := ev.EventAttrs.Get("timestamp")
	assert.False(t, ok)
}

func TestAssembleDecoratesTimeline(t *testing.T) {
	cfg := testClassify()
	cfg.TimelineAttrs = []string{"region", "team"}
	cfg.RunID = "run-1"
	cfg.AdditionalTimelineAttrs = model.KVs{
		{Key: "region", Value: model.String("default")},
		{Key: "env", Value: model.String("prod")},
	}
	cfg.OverrideTimelineAttrs = model.KVs{
		{Key: "team", Value: model.String("core")},
		{Key: "owner", Value: model.String("ops")},
	}
	asm := NewAssembler(cfg, timeline.NewRegistry())

	ev, err := asm.Assemble(context.Background(),
		decodeOne(t, `{"host":"h","region":"eu","team":"web","msg":"a"}`), nil)
	require.NoError(t, err)

	assert.Equal(t, model.KVs{
		{Key: "host", Value: model.String("h")},
		{Key: "region", Value: model.String("eu")},
		{Key: "team", Value: model.String("core")},
		{Key: "name", Value: model.String("tl-h")},
		{Key: "run_id", Value: model.String("run-1")},
		{Key: "env", Value: model.String("prod")},
		{Key: "owner", Value: model.String("ops")},
	}, ev.TimelineAttrs)
}

func TestTimestampUnits(t *testing.T) {
	tests := []struct {
		in   string
		unit TimestampUnit
	}{
		{"", UnitNanoseconds},
		{"ns", UnitNanoseconds},
		{"nanoseconds", UnitNanoseconds},
		{"us", UnitMicroseconds},
		{"micros", UnitMicroseconds},
		{"MS", UnitMilliseconds},
		{"millis", UnitMilliseconds},
		{"s", UnitSeconds},
		{"secs", UnitSeconds},
		{"seconds", UnitSeconds},
	}
	for _, tt := range tests {
		got, err := ParseTimestampUnit(tt.in)
		if err != nil {
			t.Fatalf("ParseTimestampUnit(%q): %v", tt.in, err)
		}
		if got != tt.unit {
			t.Errorf("ParseTimestampUnit(%q) = %s, want %s", tt.in, got, tt.unit)
		}
	}

	if _, err := ParseTimestampUnit("minutes"); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestToNanos(t *testing.T) {
	big := model.BigIntegerFromUint64(1 << 63)
	tests := []struct {
		name string
		unit TimestampUnit
		in   model.AttrValue
		want string
	}{
		{"ms integer", UnitMilliseconds, model.Integer(1500), "1500000000"},
		{"s float truncates", UnitSeconds, model.Float(1.5000000019), "1500000001"},
		{"us negative", UnitMicroseconds, model.Integer(-2), "-2000"},
		{"ns bigint", UnitNanoseconds, big, "9223372036854775808"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.unit.ToNanos(tt.in)
			require.NoError(t, err)
			assert.Equal(t, model.KindBigInteger, got.Kind())
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseRename(t *testing.T) {
	r, err := ParseRename("old.key,new.key")
	require.NoError(t, err)
	assert.Equal(t, Rename{Original: "old.key", New: "new.key"}, r)

	_, err = ParseRename("nocomma")
	assert.Error(t, err)
}

func TestClassifyConfigValidate(t *testing.T) {
	cfg := testClassify()
	assert.NoError(t, cfg.Validate())

	cfg.TimelineNames = nil
	assert.True(t, lferrors.IsCode(cfg.Validate(), lferrors.CodeInvalidConfig))

	cfg = testClassify()
	cfg.EventNames = nil
	assert.True(t, lferrors.IsCode(cfg.Validate(), lferrors.CodeInvalidConfig))
}

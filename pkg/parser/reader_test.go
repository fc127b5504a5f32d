package parser

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
)

func readAll(t *testing.T, r *Reader) []Step {
	t.Helper()
	var steps []Step
	for {
		step, err := r.Next()
		if errors.Is(err, io.EOF) {
			return steps
		}
		require.NoError(t, err)
		steps = append(steps, step)
	}
}

func TestReader_ObjectsAndArrays(t *testing.T) {
	buf := "  {\"a\":1}\n[{\"b\":2},{\"c\":3}] {\"d\":4}\n\n"
	r := NewReader(buf, ReaderConfig{})

	steps := readAll(t, r)
	require.Len(t, steps, 3)
	assert.Len(t, steps[0].Objects, 1)
	assert.Len(t, steps[1].Objects, 2)
	assert.Len(t, steps[2].Objects, 1)
	assert.Equal(t, len(buf), r.Offset())

	obj := steps[1].Objects[1].(*Object)
	v, ok := obj.Get("c")
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), v)
}

func TestReader_EmptyArrayYieldsNothing(t *testing.T) {
	r := NewReader("[] {\"a\":1}", ReaderConfig{})

	steps := readAll(t, r)
	require.Len(t, steps, 1)
	assert.Len(t, steps[0].Objects, 1)
}

func TestReader_ArrayElementsAreNotValidated(t *testing.T) {
	r := NewReader(`[1, {"a":1}]`, ReaderConfig{})

	steps := readAll(t, r)
	require.Len(t, steps, 1)
	require.Len(t, steps[0].Objects, 2)
	_, isObj := steps[0].Objects[0].(*Object)
	assert.False(t, isObj)
}

func TestReader_ExtrasAttachToNextBatch(t *testing.T) {
	re := regexp.MustCompile(`^host=(\S+) pid=(\d+)$`)
	buf := "host=alpha pid=12\r\nhost=beta pid=13\n{\"a\":1}\n{\"b\":2}\nhost=gamma pid=14\n"
	r := NewReader(buf, ReaderConfig{Regex: re, Attrs: []string{"host", "pid"}})

	steps := readAll(t, r)
	require.Len(t, steps, 2)

	want := []model.KV{
		{Key: "host", Value: model.String("alpha")},
		{Key: "pid", Value: model.BigIntegerFromInt64(12)},
		{Key: "host", Value: model.String("beta")},
		{Key: "pid", Value: model.BigIntegerFromInt64(13)},
	}
	assert.True(t, kvsEqual(steps[0].Extras, want), "extras = %v", steps[0].Extras)
	assert.Empty(t, steps[1].Extras, "extras must be flushed after a batch")

	// The trailing annotation has no JSON value to attach to.
	assert.Empty(t, r.Pending())
}

func TestReader_NoRegexConfigured(t *testing.T) {
	r := NewReader("plain text\n{\"a\":1}", ReaderConfig{})

	_, err := r.Next()
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeUnmatchedNonJSONLine))

	// The cursor moved past the bad line.
	step, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, step.Objects, 1)
}

func TestReader_UnmatchedLine(t *testing.T) {
	re := regexp.MustCompile(`^level=(\w+)$`)
	r := NewReader("nothing here\n", ReaderConfig{Regex: re, Attrs: []string{"level"}})

	_, err := r.Next()
	assert.True(t, errors.Is(err, lferrors.ErrUnmatchedNonJSONLine))
}

func TestReader_CaptureMismatch(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		re    string
		attrs []string
	}{
		{"two captures one name", "foo bar\n", `^(\w+) (\w+)$`, []string{"a"}},
		{"one capture two names", "foo bar\n", `^(\w+) \w+$`, []string{"a", "b"}},
		{"optional group missing", "foo\n", `^(\w+)(?: (\d+))?$`, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.line, ReaderConfig{
				Regex: regexp.MustCompile(tt.re),
				Attrs: tt.attrs,
			})

			_, err := r.Next()
			require.Error(t, err)
			assert.True(t, errors.Is(err, lferrors.ErrAttributeCaptureMismatch), "got %v", err)
		})
	}
}

func TestReader_MalformedJSON(t *testing.T) {
	r := NewReader("{\"a\":}\n{\"b\":1}\n", ReaderConfig{})

	_, err := r.Next()
	require.Error(t, err)
	assert.Equal(t, lferrors.CodeMalformedInput, lferrors.GetCode(err))

	step, err := r.Next()
	require.NoError(t, err)
	require.Len(t, step.Objects, 1)
}

func TestReader_TruncatedJSON(t *testing.T) {
	r := NewReader(`{"a":[1,2`, ReaderConfig{})

	_, err := r.Next()
	require.Error(t, err)
	assert.Equal(t, lferrors.CodeMalformedInput, lferrors.GetCode(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TrailingContentAfterArray(t *testing.T) {
	re := regexp.MustCompile(`^# (.*)$`)
	r := NewReader("[{\"a\":1}]# note\n{\"b\":2}", ReaderConfig{Regex: re, Attrs: []string{"note"}})

	steps := readAll(t, r)
	require.Len(t, steps, 2)
	assert.Empty(t, steps[0].Extras)
	require.Len(t, steps[1].Extras, 1)
	assert.Equal(t, "note", steps[1].Extras[0].Key)
}

func TestReader_MalformedMultiLineValue(t *testing.T) {
	re := regexp.MustCompile(`(.*)`)
	r := NewReader("note\n{\"a\":\n 1 x,\n \"b\": {\"c\": 2}\n}\n{\"c\":3}\n", ReaderConfig{Regex: re, Attrs: []string{"x"}})

	_, err := r.Next()
	require.Error(t, err)
	assert.Equal(t, lferrors.CodeMalformedInput, lferrors.GetCode(err))

	var ie *lferrors.ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Context["line"])

	steps := readAll(t, r)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Extras, "fragments of the broken value and its annotations are dropped")
	assert.Equal(t, 6, steps[0].Line)
}

func TestReader_UnterminatedValueBeforeNextRecord(t *testing.T) {
	r := NewReader("{\"a\":1\n{\"b\":2}\n", ReaderConfig{})

	_, err := r.Next()
	require.Error(t, err)

	step, err := r.Next()
	require.NoError(t, err)
	require.Len(t, step.Objects, 1)
	assert.Equal(t, 2, step.Line)
}

func TestReader_NumberOutOfRange(t *testing.T) {
	r := NewReader("{\"a\":1e400}\n{\"b\":2}\n", ReaderConfig{})

	_, err := r.Next()
	require.Error(t, err)
	assert.Equal(t, lferrors.CodeMalformedInput, lferrors.GetCode(err))

	steps := readAll(t, r)
	require.Len(t, steps, 1)
	assert.Equal(t, 2, steps[0].Line)
}

func TestReader_InvalidUTF8(t *testing.T) {
	re := regexp.MustCompile(`^# (.*)$`)
	r := NewReader("# note\n{\"a\":\"x\xffy\"}\n{\"b\":\"\u00e9\"}\n", ReaderConfig{Regex: re, Attrs: []string{"note"}})

	_, err := r.Next()
	require.Error(t, err)
	assert.Equal(t, lferrors.CodeMalformedInput, lferrors.GetCode(err))

	var ie *lferrors.ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Context["line"])

	steps := readAll(t, r)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Extras)
	assert.Equal(t, 3, steps[0].Line)
}

package parser

import (
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/logflow/jsonimport/internal/model"
)

// ReaderConfig controls how non-JSON lines are handled.
type ReaderConfig struct {
	// Regex is matched against each non-JSON line. Nil means such lines
	// are an error.
	Regex *regexp.Regexp

	// Attrs names the capture groups of Regex, in order.
	Attrs []string
}

// Step is one batch of JSON values together with the attributes taken
// from the non-JSON lines that preceded it.
type Step struct {
	Objects []any
	Extras  []model.KV

	// Offset and Line locate the start of the batch in the buffer.
	Offset int
	Line   int
}

// Reader walks a buffer that mixes JSON objects, JSON arrays of objects
// and free-text lines.
//
// Free-text lines are matched against the configured regex and act as
// annotations: their captures are held in a pending buffer and attached to
// the next batch of JSON values. The buffer is flushed every time a
// non-empty batch is returned.
type Reader struct {
	buf     string
	pos     int
	cfg     ReaderConfig
	pending []model.KV
}

// NewReader returns a reader positioned at the start of buf.
func NewReader(buf string, cfg ReaderConfig) *Reader {
	return &Reader{buf: buf, cfg: cfg}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.pos
}

// Pending returns the extras waiting for the next JSON batch.
func (r *Reader) Pending() []model.KV {
	return r.pending
}

// Next returns the next batch of JSON values. It returns io.EOF once the
// buffer is exhausted; extras still pending at that point are dropped.
//
// On error the cursor is moved past the offending input so the caller may
// choose to continue. A malformed JSON value also discards the extras
// pending for it.
func (r *Reader) Next() (Step, error) {
	for {
		r.skipSpace()
		if r.pos >= len(r.buf) {
			r.pending = nil
			return Step{}, io.EOF
		}

		var (
			objects []any
			err     error
			start   = r.pos
		)
		switch r.buf[r.pos] {
		case '[':
			objects, err = r.readArray()
		case '{':
			objects, err = r.readObject()
		default:
			err = r.readLine()
		}
		if err != nil {
			return Step{}, err
		}

		if len(objects) > 0 {
			step := Step{
				Objects: objects,
				Extras:  r.pending,
				Offset:  start,
				Line:    r.lineAt(start),
			}
			r.pending = nil
			return step, nil
		}
	}
}

func (r *Reader) skipSpace() {
	for r.pos < len(r.buf) {
		c, size := utf8.DecodeRuneInString(r.buf[r.pos:])
		if !unicode.IsSpace(c) {
			return
		}
		r.pos += size
	}
}

// decode parses one JSON value at the cursor and advances past it.
func (r *Reader) decode() (any, error) {
	start := r.pos
	dec := json.NewDecoder(strings.NewReader(r.buf[start:]))
	dec.UseNumber()

	v, err := DecodeValue(dec)
	if err != nil {
		line := r.lineAt(start)
		offset := start + int(dec.InputOffset())
		if se, ok := err.(*json.SyntaxError); ok {
			offset = start + int(se.Offset)
		}
		r.pending = nil
		r.resync(start)
		return nil, errMalformed(offset, line, err)
	}

	end := start + int(dec.InputOffset())
	if i := invalidUTF8(r.buf[start:end]); i >= 0 {
		r.pending = nil
		r.pos = end
		return nil, errMalformed(start+i, r.lineAt(start),
			errors.New("invalid UTF-8 in JSON value"))
	}

	r.pos = end
	return v, nil
}

// invalidUTF8 returns the index of the first byte of s that is not valid
// UTF-8, or -1.
func invalidUTF8(s string) int {
	for i := 0; i < len(s); {
		c, size := utf8.DecodeRuneInString(s[i:])
		if c == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

func (r *Reader) readArray() ([]any, error) {
	v, err := r.decode()
	if err != nil {
		return nil, err
	}
	arr, _ := v.([]any)
	return arr, nil
}

func (r *Reader) readObject() ([]any, error) {
	v, err := r.decode()
	if err != nil {
		return nil, err
	}
	return []any{v}, nil
}

// readLine matches the line at the cursor against the regex and queues its
// captures as pending extras.
func (r *Reader) readLine() error {
	lineNo := r.lineAt(r.pos)
	line := r.currentLine()
	r.pos += len(line)

	if r.cfg.Regex == nil {
		return errNoRegex(lineNo)
	}

	text := strings.TrimSuffix(line, "\r")
	loc := r.cfg.Regex.FindStringSubmatchIndex(text)
	if loc == nil {
		return errUnmatched(lineNo, text)
	}

	// Group 0 is the whole match.
	groups := len(loc)/2 - 1
	n := len(r.cfg.Attrs)
	if groups > n {
		n = groups
	}

	kvs := make([]model.KV, 0, len(r.cfg.Attrs))
	for i := 0; i < n; i++ {
		switch {
		case i < len(r.cfg.Attrs) && i < groups:
			lo, hi := loc[2*(i+1)], loc[2*(i+1)+1]
			if lo < 0 {
				return errCaptureWithoutMatch(lineNo, i+1)
			}
			kvs = append(kvs, model.KV{Key: r.cfg.Attrs[i], Value: CoerceString(text[lo:hi])})
		case i < len(r.cfg.Attrs):
			return errAttrWithoutCapture(lineNo, r.cfg.Attrs[i])
		default:
			lo, hi := loc[2*(i+1)], loc[2*(i+1)+1]
			capture := "<no match>"
			if lo >= 0 {
				capture = text[lo:hi]
			}
			return errCaptureWithoutAttr(lineNo, capture)
		}
	}

	r.pending = append(r.pending, kvs...)
	return nil
}

// currentLine returns the text from the cursor up to, not including, the
// next newline.
func (r *Reader) currentLine() string {
	rest := r.buf[r.pos:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func (r *Reader) skipLine() {
	r.pos += len(r.currentLine())
}

// resync drops a malformed value that began at start. The cursor moves to
// the next line that opens a JSON value in its first column; the lines in
// between are treated as part of the broken value.
func (r *Reader) resync(start int) {
	r.pos = start
	r.skipLine()
	for r.pos < len(r.buf) {
		r.pos++ // newline
		if r.pos < len(r.buf) && (r.buf[r.pos] == '{' || r.buf[r.pos] == '[') {
			return
		}
		r.skipLine()
	}
}

// lineAt returns the 1-based line number of byte offset off.
func (r *Reader) lineAt(off int) int {
	return strings.Count(r.buf[:off], "\n") + 1
}

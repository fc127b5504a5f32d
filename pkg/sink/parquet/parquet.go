// Package parquet implements a sink that writes every metadata update and
// event as a row of a Parquet file.
//
// Rows carry the kind ("metadata" or "event"), the timeline id, the event
// ordering as an unsigned 128-bit decimal (null for metadata) and the
// attributes as a list of (key, type, value) structs with values rendered
// as text.
package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/jsonimport/internal/model"
	"github.com/logflow/jsonimport/pkg/sink"
)

const createdBy = "jsonimport"

// Row kinds.
const (
	KindMetadata = "metadata"
	KindEvent    = "event"
)

var attrType = arrow.StructOf(
	arrow.Field{Name: "key", Type: arrow.BinaryTypes.String, Nullable: false},
	arrow.Field{Name: "type", Type: arrow.BinaryTypes.String, Nullable: false},
	arrow.Field{Name: "value", Type: arrow.BinaryTypes.String, Nullable: false},
)

// Schema returns the Arrow schema of the output file.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "timeline_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "ordering", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "attrs", Type: arrow.ListOf(attrType), Nullable: false},
	}, nil)
}

// Options configures the writer.
type Options struct {
	// Compression is one of zstd, snappy, gzip or none.
	Compression string

	// BatchSize is the number of rows buffered per record batch.
	BatchSize int

	// Metadata is stored in the file footer under "jsonimport." keys.
	Metadata map[string]string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Compression: "zstd",
		BatchSize:   4096,
	}
}

// Writer owns the output file. It hands out sessions that share the file
// and is safe for concurrent use. Output is written to a temp file and
// renamed into place on Close.
type Writer struct {
	mu sync.Mutex

	path     string
	tempPath string
	opts     Options
	schema   *arrow.Schema
	file     *os.File
	writer   *pqarrow.FileWriter

	keys    []string
	handles map[string]sink.KeyHandle
	kindB   *array.StringBuilder
	tlB     *array.StringBuilder
	ordB    *array.StringBuilder
	attrsB  *array.ListBuilder
	pending int
	rows    int64
	started time.Time
	closed  bool

	// failed is set once a record batch could not be written. The file is
	// unusable after that and every later write reports it.
	failed error
}

// NewWriter creates the temp file and Parquet writer for path.
func NewWriter(path string, opts Options) (*Writer, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}

	started := time.Now()
	metaKeys := []string{"jsonimport.created_at"}
	metaValues := []string{started.Format(time.RFC3339)}
	for k, v := range opts.Metadata {
		metaKeys = append(metaKeys, "jsonimport."+k)
		metaValues = append(metaValues, v)
	}
	meta := arrow.NewMetadata(metaKeys, metaValues)
	schema := arrow.NewSchema(Schema().Fields(), &meta)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fmt.Sprintf("%s.tmp.%d", path, started.UnixNano())
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec(opts.Compression)),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
		parquet.WithCreatedBy(createdBy),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(schema, file, writerProps, arrowProps)
	if err != nil {
		file.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	alloc := memory.NewGoAllocator()
	return &Writer{
		path:     path,
		tempPath: tempPath,
		opts:     opts,
		schema:   schema,
		file:     file,
		writer:   fw,
		handles:  make(map[string]sink.KeyHandle),
		kindB:    array.NewStringBuilder(alloc),
		tlB:      array.NewStringBuilder(alloc),
		ordB:     array.NewStringBuilder(alloc),
		attrsB:   array.NewListBuilder(alloc, attrType),
		started:  started,
	}, nil
}

func codec(name string) compress.Compression {
	switch name {
	case "snappy":
		return compress.Codecs.Snappy
	case "gzip":
		return compress.Codecs.Gzip
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Zstd
	}
}

// Open implements sink.Factory.
func (w *Writer) Open(context.Context) (sink.Sink, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("parquet writer closed")
	}
	return &Session{w: w}, nil
}

// Path returns the final output path.
func (w *Writer) Path() string {
	return w.path
}

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows + int64(w.pending)
}

func (w *Writer) declare(key string) (sink.KeyHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("parquet writer closed")
	}
	if h, ok := w.handles[key]; ok {
		return h, nil
	}
	h := sink.KeyHandle(len(w.keys))
	w.keys = append(w.keys, key)
	w.handles[key] = h
	return h, nil
}

// appendRow adds one row; ordering is nil for metadata rows.
func (w *Writer) appendRow(kind string, tl model.TimelineID, ordering *model.Ordering, attrs []sink.KeyedValue) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("parquet writer closed")
	}
	if w.failed != nil {
		return w.failed
	}

	w.kindB.Append(kind)
	w.tlB.Append(tl.String())
	if ordering != nil {
		w.ordB.Append(ordering.String())
	} else {
		w.ordB.AppendNull()
	}

	w.attrsB.Append(true)
	sb := w.attrsB.ValueBuilder().(*array.StructBuilder)
	for _, a := range attrs {
		key := fmt.Sprintf("<handle %d>", a.Key)
		if int(a.Key) < len(w.keys) {
			key = w.keys[a.Key]
		}
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(key)
		sb.FieldBuilder(1).(*array.StringBuilder).Append(a.Value.Kind().String())
		sb.FieldBuilder(2).(*array.StringBuilder).Append(a.Value.String())
	}

	w.pending++
	if w.pending >= w.opts.BatchSize {
		return w.flushLocked()
	}
	return nil
}

func (w *Writer) flushLocked() error {
	if w.failed != nil {
		return w.failed
	}
	if w.pending == 0 {
		return nil
	}

	kindArr := w.kindB.NewArray()
	tlArr := w.tlB.NewArray()
	ordArr := w.ordB.NewArray()
	attrsArr := w.attrsB.NewArray()
	defer kindArr.Release()
	defer tlArr.Release()
	defer ordArr.Release()
	defer attrsArr.Release()

	batch := array.NewRecord(w.schema, []arrow.Array{kindArr, tlArr, ordArr, attrsArr}, int64(w.pending))
	defer batch.Release()

	if err := w.writer.Write(batch); err != nil {
		// The builders were drained by NewArray above.
		w.pending = 0
		w.failed = fmt.Errorf("failed to write record batch: %w", err)
		return w.failed
	}
	w.rows += int64(w.pending)
	w.pending = 0
	return nil
}

// Close flushes buffered rows and atomically moves the file into place.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	defer func() {
		w.kindB.Release()
		w.tlB.Release()
		w.ordB.Release()
		w.attrsB.Release()
	}()

	if err := w.flushLocked(); err != nil {
		w.writer.Close()
		os.Remove(w.tempPath)
		return err
	}

	// Closing the writer also closes the underlying file.
	if err := w.writer.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("failed to close writer: %w", err)
	}

	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("failed to rename temp file to final path: %w", err)
	}
	return nil
}

// Abort discards the output.
func (w *Writer) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.writer.Close()
	return os.Remove(w.tempPath)
}

// Session is one sink session writing into a shared Writer.
type Session struct {
	w       *Writer
	current *model.TimelineID
}

var _ sink.Sink = (*Session)(nil)

// OpenTimeline implements sink.Sink.
func (s *Session) OpenTimeline(_ context.Context, id model.TimelineID) error {
	s.current = &id
	return nil
}

// DeclareKey implements sink.Sink.
func (s *Session) DeclareKey(_ context.Context, key string) (sink.KeyHandle, error) {
	return s.w.declare(key)
}

// SetTimelineMetadata implements sink.Sink.
func (s *Session) SetTimelineMetadata(_ context.Context, attrs []sink.KeyedValue) error {
	if s.current == nil {
		return sink.ErrNoTimeline
	}
	return s.w.appendRow(KindMetadata, *s.current, nil, attrs)
}

// SendEvent implements sink.Sink.
func (s *Session) SendEvent(_ context.Context, ordering model.Ordering, attrs []sink.KeyedValue) error {
	if s.current == nil {
		return sink.ErrNoTimeline
	}
	return s.w.appendRow(KindEvent, *s.current, &ordering, attrs)
}

// Close implements sink.Sink. The file stays open until Writer.Close.
func (s *Session) Close(context.Context) error {
	return nil
}

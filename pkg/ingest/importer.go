// Package ingest turns input buffers into events on a sink.
//
// An Importer runs one input at a time: the mixed-format reader yields
// batches of JSON values, the Assembler classifies each into a prepared
// event, and the Client delivers it. Every input gets its own ordering
// counter starting at zero. The timeline registry is shared, so the same
// signature seen in two inputs lands on the same timeline with
// independent orderings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	ingerrors "github.com/logflow/jsonimport/pkg/ingest/errors"
	"github.com/logflow/jsonimport/pkg/ingest/sources"
	"github.com/logflow/jsonimport/pkg/parser"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/telemetry"
	"github.com/logflow/jsonimport/pkg/timeline"
)

// Config is everything an Importer needs besides its collaborators.
type Config struct {
	Classify       ClassifyConfig
	Reader         parser.ReaderConfig
	RenameTimeline []Rename
	RenameEvent    []Rename
}

// Result summarizes one imported input.
type Result struct {
	Input    string
	Bytes    int
	Records  int
	Events   int
	Skipped  int
	Duration time.Duration
}

// ProgressFunc is called after each batch with the bytes consumed so far.
type ProgressFunc func(input string, offset, total int)

// Importer imports inputs into one sink session.
type Importer struct {
	assembler *Assembler
	client    *Client
	readerCfg parser.ReaderConfig
	handler   *ingerrors.Handler
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	progress  ProgressFunc
}

// NewImporter wires an importer. handler and metrics may be nil, meaning
// strict error handling and private counters.
func NewImporter(cfg Config, reg timeline.Resolver, s sink.Sink, handler *ingerrors.Handler, metrics *telemetry.Metrics) *Importer {
	if handler == nil {
		handler = ingerrors.NewHandler(ingerrors.PolicyStrict, 0)
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Importer{
		assembler: NewAssembler(cfg.Classify, reg),
		client:    NewClient(s, cfg.RenameTimeline, cfg.RenameEvent, metrics),
		readerCfg: cfg.Reader,
		handler:   handler,
		metrics:   metrics,
		logger:    slog.Default(),
	}
}

// WithLogger sets the importer's logger.
func (im *Importer) WithLogger(l *slog.Logger) *Importer {
	im.logger = l
	im.client.WithLogger(l)
	return im
}

// WithProgress registers a progress callback.
func (im *Importer) WithProgress(fn ProgressFunc) *Importer {
	im.progress = fn
	return im
}

// Import reads src fully and imports it.
func (im *Importer) Import(ctx context.Context, src sources.Source) (Result, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Input: src.ID()}, lferrors.FileNotFound(src.Location())
		}
		return Result{Input: src.ID()}, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to open input").
			WithContext("input", src.Location())
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Result{Input: src.ID()}, lferrors.Wrap(err, lferrors.CodeReadFailed, "failed to read input").
			WithContext("input", src.Location())
	}

	return im.ImportBuffer(ctx, src.ID(), string(data))
}

// ImportBuffer imports one complete input held in memory.
//
// Cancellation of ctx is checked between records. Sink calls already
// started run to completion so the session is never left half-updated.
func (im *Importer) ImportBuffer(ctx context.Context, name, buf string) (res Result, err error) {
	start := time.Now()
	res = Result{Input: name, Bytes: len(buf)}

	ctx, span := telemetry.StartSpan(ctx, "ingest.import",
		attribute.String("input", name),
		attribute.Int("bytes", len(buf)),
	)
	defer func() {
		res.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("events", res.Events),
			attribute.Int("skipped", res.Skipped),
		)
		telemetry.EndSpan(span, err)
	}()

	im.logger.Info("importing input", "input", name, "bytes", len(buf))

	sendCtx := context.WithoutCancel(ctx)
	reader := parser.NewReader(buf, im.readerCfg)
	var ordering model.Ordering

	for {
		if ctx.Err() != nil {
			return res, lferrors.Canceled("import").WithContext("input", name)
		}

		offset := reader.Offset()
		step, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if herr := im.recordError(name, buf, offset, err); herr != nil {
				return res, herr
			}
			res.Skipped++
			continue
		}

		for _, obj := range step.Objects {
			if ctx.Err() != nil {
				return res, lferrors.Canceled("import").WithContext("input", name)
			}
			res.Records++
			im.metrics.RecordRead()

			ev, err := im.assembler.Assemble(sendCtx, obj, step.Extras)
			if err != nil {
				if herr := im.recordError(name, buf, step.Offset, err); herr != nil {
					return res, herr
				}
				res.Skipped++
				continue
			}

			ev.Ordering = ordering
			if err := im.client.SendEventOnTimeline(sendCtx, ev); err != nil {
				return res, lferrors.Wrapf(err, lferrors.CodeSinkFailure,
					"failed to send event %s", ordering).WithContext("input", name)
			}
			ordering = ordering.Next()
			res.Events++
		}

		if im.progress != nil {
			im.progress(name, reader.Offset(), len(buf))
		}
	}

	im.metrics.InputDone(len(buf))
	im.logger.Info("imported input",
		"input", name,
		"events", res.Events,
		"skipped", res.Skipped,
		"duration", time.Since(start),
	)
	return res, nil
}

// recordError passes err through the error policy. It returns nil when the
// record may be skipped.
func (im *Importer) recordError(name, buf string, offset int, err error) error {
	rerr := ingerrors.RecordError{
		Input:  name,
		Offset: offset,
		Line:   lineAt(buf, offset),
		Code:   lferrors.GetCode(err),
		Err:    err,
	}

	var ie *lferrors.ImportError
	if errors.As(err, &ie) {
		if v, ok := ie.Context["offset"].(int); ok {
			rerr.Offset = v
		}
		if v, ok := ie.Context["line"].(int); ok {
			rerr.Line = v
		}
	}

	if herr := im.handler.Handle(rerr); herr != nil {
		return wrapInput(herr, name, rerr.Line)
	}

	im.metrics.RecordSkipped()
	im.logger.Warn("skipped record",
		"input", name,
		"line", rerr.Line,
		"code", string(rerr.Code),
		"error", err,
	)
	return nil
}

func wrapInput(err error, name string, line int) error {
	var ie *lferrors.ImportError
	if errors.As(err, &ie) && ie == err {
		return ie.WithContext("input", name)
	}
	return fmt.Errorf("%s line %d: %w", name, line, err)
}

func lineAt(buf string, offset int) int {
	if offset > len(buf) {
		offset = len(buf)
	}
	n := 1
	for i := 0; i < offset; i++ {
		if buf[i] == '\n' {
			n++
		}
	}
	return n
}

package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/jsonimport/internal/model"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	ingerrors "github.com/logflow/jsonimport/pkg/ingest/errors"
	"github.com/logflow/jsonimport/pkg/ingest/sources"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/sink/memory"
	"github.com/logflow/jsonimport/pkg/telemetry"
	"github.com/logflow/jsonimport/pkg/timeline"
)

func testConfig() Config {
	return Config{Classify: testClassify()}
}

func records(n int, host string) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "{\"host\":%q,\"msg\":\"m%d\"}\n", host, i)
	}
	return sb.String()
}

func orderings(calls []memory.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Ordering.String()
	}
	return out
}

func TestImportOrderingIsMonotonic(t *testing.T) {
	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), nil, nil)

	res, err := im.ImportBuffer(context.Background(), "ten", records(10, "a"))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Events)
	assert.Equal(t, 10, res.Records)

	events := store.Events()
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, model.OrderingFromUint64(uint64(i)), e.Ordering)
		name, _ := e.Attrs.Get("event.name")
		assert.Equal(t, fmt.Sprintf("m%d", i), name.String())
	}
}

func TestImportOrderingRestartsPerInput(t *testing.T) {
	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), nil, nil)
	ctx := context.Background()

	_, err := im.ImportBuffer(ctx, "one", records(3, "a"))
	require.NoError(t, err)
	_, err = im.ImportBuffer(ctx, "two", records(2, "a"))
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "1", "2", "0", "1"}, orderings(store.Events()))

	// Same signature in both inputs: one timeline, metadata sent once.
	opens := store.CallsOf(memory.OpOpenTimeline)
	assert.Len(t, opens, 1)
}

func TestImportMissingEventNameStrict(t *testing.T) {
	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), nil, nil)

	buf := `{"host":"a","msg":"ok"}
{"host":"a","nomsg":1}
{"host":"a","msg":"never"}`
	res, err := im.ImportBuffer(context.Background(), "in", buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lferrors.ErrMissingEventName))
	assert.Equal(t, 1, res.Events)

	events := store.Events()
	require.Len(t, events, 1)
	name, _ := events[0].Attrs.Get("event.name")
	assert.Equal(t, "ok", name.String())
}

func TestImportSkipPolicy(t *testing.T) {
	store := memory.New()
	handler := ingerrors.NewHandler(ingerrors.PolicySkip, 0)
	metrics := telemetry.NewMetrics()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), handler, metrics)

	buf := `{"host":"a","msg":"one"}
{"host":"a"}
not json at all
{"host":"a","msg":
{"host":"a","msg":"two"}
{"msg":"orphan"}
{"host":"a","msg":"three"}`
	res, err := im.ImportBuffer(context.Background(), "in", buf)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events)
	assert.Equal(t, 4, res.Skipped)

	// Failed records do not consume an ordering value.
	assert.Equal(t, []string{"0", "1", "2"}, orderings(store.Events()))

	errs := handler.Errors()
	require.Len(t, errs, 4)
	assert.Equal(t, lferrors.CodeMissingEventName, errs[0].Code)
	assert.Equal(t, 2, errs[0].Line)
	assert.Equal(t, lferrors.CodeUnmatchedNonJSONLine, errs[1].Code)
	assert.Equal(t, 3, errs[1].Line)
	assert.Equal(t, lferrors.CodeMalformedInput, errs[2].Code)
	assert.Equal(t, 4, errs[2].Line)
	assert.Equal(t, lferrors.CodeMissingTimelineIdentity, errs[3].Code)

	assert.Equal(t, int64(4), metrics.Snapshot().RecordsSkipped)
}

func TestImportSkipsMultiLineMalformedRecord(t *testing.T) {
	cfg := testConfig()
	cfg.Reader.Regex = regexp.MustCompile(`^level=(\w+) pid=(\d+)$`)
	cfg.Reader.Attrs = []string{"level", "pid"}
	store := memory.New()
	handler := ingerrors.NewHandler(ingerrors.PolicySkip, 0)
	im := NewImporter(cfg, timeline.NewRegistry(), store.Session(), handler, nil)

	buf := `level=warn pid=1
{"host":"a",
 "msg":"one" oops}
{"host":"a","msg":"two"}
`
	res, err := im.ImportBuffer(context.Background(), "in", buf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, 1, res.Skipped)

	errs := handler.Errors()
	require.Len(t, errs, 1, "one bad record is one error")
	assert.Equal(t, lferrors.CodeMalformedInput, errs[0].Code)
	assert.Equal(t, 2, errs[0].Line)

	events := store.Events()
	require.Len(t, events, 1)
	_, ok := events[0].Attrs.Get("event.level")
	assert.False(t, ok, "annotations of the broken record do not carry over")
}

func TestImportMaxErrors(t *testing.T) {
	store := memory.New()
	handler := ingerrors.NewHandler(ingerrors.PolicySkip, 2)
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), handler, nil)

	buf := "{\"host\":\"a\"}\n{\"host\":\"a\"}\n{\"host\":\"a\",\"msg\":\"late\"}\n"
	_, err := im.ImportBuffer(context.Background(), "in", buf)
	require.Error(t, err)
	assert.Empty(t, store.Events())
}

func TestImportQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejected.jsonl")
	q, err := ingerrors.NewFileQuarantine(path)
	require.NoError(t, err)

	handler := ingerrors.NewHandler(ingerrors.PolicyQuarantine, 0)
	handler.SetQuarantine(q)

	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), handler, nil)
	_, err = im.ImportBuffer(context.Background(), "q.json", "{\"host\":\"a\",\"msg\":\"x\"}\n{\"host\":\"a\"}\n")
	require.NoError(t, err)
	require.NoError(t, q.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"input":"q.json"`)
	assert.Contains(t, lines[0], `"code":"E202"`)
	assert.Contains(t, lines[0], `"line":2`)
}

func TestImportNonJSONExtras(t *testing.T) {
	cfg := testConfig()
	cfg.Reader.Regex = regexp.MustCompile(`^level=(\w+) pid=(\d+)$`)
	cfg.Reader.Attrs = []string{"level", "pid"}
	store := memory.New()
	im := NewImporter(cfg, timeline.NewRegistry(), store.Session(), nil, nil)

	buf := "level=warn pid=7\n[{\"host\":\"a\",\"msg\":\"x\"},{\"host\":\"a\",\"msg\":\"y\"}]\n{\"host\":\"a\",\"msg\":\"z\"}\n"
	_, err := im.ImportBuffer(context.Background(), "mixed", buf)
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 3)
	for _, e := range events[:2] {
		level, ok := e.Attrs.Get("event.level")
		require.True(t, ok)
		assert.Equal(t, "warn", level.String())
		pid, _ := e.Attrs.Get("event.pid")
		assert.Equal(t, model.KindBigInteger, pid.Kind())
	}
	_, ok := events[2].Attrs.Get("event.level")
	assert.False(t, ok, "extras are flushed after the batch they attach to")
}

func TestImportCaptureMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.Reader.Regex = regexp.MustCompile(`^(\w+) (\w+)$`)
	cfg.Reader.Attrs = []string{"only"}
	im := NewImporter(cfg, timeline.NewRegistry(), memory.New().Session(), nil, nil)

	_, err := im.ImportBuffer(context.Background(), "in", "foo bar\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lferrors.ErrAttributeCaptureMismatch))
}

func TestImportTimestampEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Classify.TimestampAttr = "t"
	cfg.Classify.TimestampUnit = UnitMilliseconds
	store := memory.New()
	im := NewImporter(cfg, timeline.NewRegistry(), store.Session(), nil, nil)

	_, err := im.ImportBuffer(context.Background(), "ts", `{"host":"a","msg":"x","t":1500}`)
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 1)
	ts, ok := events[0].Attrs.Get("event.timestamp")
	require.True(t, ok)
	assert.Equal(t, "1500000000", ts.String())
}

func TestImportCanceled(t *testing.T) {
	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := im.ImportBuffer(ctx, "in", records(5, "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, lferrors.ErrCanceled))
	assert.Empty(t, store.Events())
}

func TestImportStopsBetweenRecords(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	var sent int
	s := &cancelAfter{Sink: store.Session(), n: 3, cancel: cancel, sent: &sent}
	im := NewImporter(testConfig(), timeline.NewRegistry(), s, nil, nil)

	res, err := im.ImportBuffer(ctx, "in", records(10, "a"))
	require.Error(t, err)
	assert.Equal(t, 3, res.Events)
	assert.Len(t, store.Events(), 3)
}

// cancelAfter cancels the import after n events were sent.
type cancelAfter struct {
	sink.Sink
	n      int
	cancel context.CancelFunc
	sent   *int
}

func (c *cancelAfter) SendEvent(ctx context.Context, o model.Ordering, attrs []sink.KeyedValue) error {
	if err := c.Sink.SendEvent(ctx, o, attrs); err != nil {
		return err
	}
	*c.sent++
	if *c.sent == c.n {
		c.cancel()
	}
	// The send context must survive cancellation of the import.
	return ctx.Err()
}

func TestImportSinkFailureIsFatalUnderSkip(t *testing.T) {
	store := memory.New()
	store.FailOn(memory.OpEvent, errors.New("disk full"))
	handler := ingerrors.NewHandler(ingerrors.PolicySkip, 0)
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), handler, nil)

	_, err := im.ImportBuffer(context.Background(), "in", records(2, "a"))
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeSinkFailure))
	assert.Zero(t, handler.ErrorCount())
}

func TestImportSources(t *testing.T) {
	store := memory.New()
	im := NewImporter(testConfig(), timeline.NewRegistry(), store.Session(), nil, nil)
	ctx := context.Background()

	res, err := im.Import(ctx, sources.NewMemorySource("mem", []byte(records(2, "a"))))
	require.NoError(t, err)
	assert.Equal(t, "mem", res.Input)
	assert.Equal(t, 2, res.Events)

	_, err = im.Import(ctx, sources.NewFileSource(filepath.Join(t.TempDir(), "missing.json")))
	require.Error(t, err)
	assert.True(t, lferrors.IsCode(err, lferrors.CodeFileNotFound))
}

func TestImportProgress(t *testing.T) {
	buf := records(3, "a")
	var last int
	im := NewImporter(testConfig(), timeline.NewRegistry(), memory.New().Session(), nil, nil).
		WithProgress(func(_ string, offset, total int) {
			assert.Equal(t, len(buf), total)
			assert.GreaterOrEqual(t, offset, last)
			last = offset
		})

	_, err := im.ImportBuffer(context.Background(), "p", buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf)-1, last)
}

func memorySources(inputs map[string]string, order []string) []sources.Source {
	out := make([]sources.Source, 0, len(order))
	for _, name := range order {
		out = append(out, sources.NewMemorySource(name, []byte(inputs[name])))
	}
	return out
}

func TestRunnerSequential(t *testing.T) {
	store := memory.New()
	reg := timeline.NewRegistry()
	r := &Runner{Config: testConfig(), Registry: reg, Sinks: store}

	srcs := memorySources(map[string]string{
		"a": records(2, "X"),
		"b": records(3, "X") + records(1, "Y"),
	}, []string{"a", "b"})

	results, err := r.Run(context.Background(), srcs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Events)
	assert.Equal(t, 4, results[1].Events)

	assert.Equal(t, []string{"0", "1", "0", "1", "2", "3"}, orderings(store.Events()))
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 1, store.Closed())

	// One session for the whole run: each key is declared once.
	seen := map[string]int{}
	for _, c := range store.CallsOf(memory.OpDeclareKey) {
		seen[c.Key]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s declared %d times", k, n)
	}
}

func TestRunnerParallel(t *testing.T) {
	store := memory.New()
	reg := timeline.NewRegistry()
	metrics := telemetry.NewMetrics()
	r := &Runner{
		Config:   testConfig(),
		Registry: reg,
		Sinks:    store,
		Metrics:  metrics,
		Parallel: 3,
	}

	inputs := map[string]string{}
	var order []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("in%d", i)
		inputs[name] = records(5, "shared") + records(1, name)
		order = append(order, name)
	}

	results, err := r.Run(context.Background(), memorySources(inputs, order))
	require.NoError(t, err)
	for i, res := range results {
		assert.Equal(t, order[i], res.Input)
		assert.Equal(t, 6, res.Events)
	}

	assert.Len(t, store.Events(), 48)
	assert.Equal(t, 9, reg.Len(), "shared plus one per input")
	assert.Equal(t, 3, store.Closed())
	assert.Equal(t, int64(48), metrics.Snapshot().EventsSent)

	// Every event on the shared timeline resolved to the same id.
	ids := map[model.TimelineID]int{}
	for _, e := range store.Events() {
		ids[e.Timeline]++
	}
	assert.Len(t, ids, 9)
	var shared int
	for _, n := range ids {
		if n == 40 {
			shared++
		}
	}
	assert.Equal(t, 1, shared)
}

func TestRunnerStopsOnFirstError(t *testing.T) {
	store := memory.New()
	r := &Runner{Config: testConfig(), Sinks: store, Parallel: 2}

	srcs := memorySources(map[string]string{
		"good": records(2, "a"),
		"bad":  `{"host":"a"}`,
	}, []string{"bad", "good"})

	_, err := r.Run(context.Background(), srcs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lferrors.ErrMissingEventName))
}

func TestRunnerOpenFailure(t *testing.T) {
	boom := errors.New("refused")
	r := &Runner{
		Config: testConfig(),
		Sinks: sink.FactoryFunc(func(context.Context) (sink.Sink, error) {
			return nil, boom
		}),
	}
	_, err := r.Run(context.Background(), memorySources(map[string]string{"a": "{}"}, []string{"a"}))
	assert.ErrorIs(t, err, boom)
}

func TestRunnerNoSources(t *testing.T) {
	r := &Runner{Config: testConfig(), Sinks: memory.New()}
	results, err := r.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, r.Sinks.(*memory.Store).Closed(), "no session is opened without inputs")
}

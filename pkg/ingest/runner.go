package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	ingerrors "github.com/logflow/jsonimport/pkg/ingest/errors"
	"github.com/logflow/jsonimport/pkg/ingest/sources"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/telemetry"
	"github.com/logflow/jsonimport/pkg/timeline"
)

// Runner imports a list of sources, sequentially or with several workers.
//
// Sequential runs share one sink session and one Client, so keys and
// timeline metadata are declared once for the whole run. In parallel runs
// each worker opens its own session and keeps its own caches; only the
// timeline registry is shared.
type Runner struct {
	Config   Config
	Registry timeline.Resolver
	Sinks    sink.Factory
	Handler  *ingerrors.Handler
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Progress ProgressFunc

	// Parallel is the number of workers. Values below 2 run sequentially.
	Parallel int
}

// Run imports srcs and returns one result per source, in source order.
// The first fatal error stops the run; results for inputs that were not
// reached are zero.
func (r *Runner) Run(ctx context.Context, srcs []sources.Source) ([]Result, error) {
	if r.Registry == nil {
		r.Registry = timeline.NewRegistry()
	}
	if r.Handler == nil {
		r.Handler = ingerrors.NewHandler(ingerrors.PolicyStrict, 0)
	}
	if r.Metrics == nil {
		r.Metrics = telemetry.NewMetrics()
	}
	if r.Logger == nil {
		r.Logger = slog.Default()
	}

	results := make([]Result, len(srcs))
	if len(srcs) == 0 {
		return results, nil
	}

	workers := r.Parallel
	if workers > len(srcs) {
		workers = len(srcs)
	}
	if workers < 2 {
		return results, r.worker(ctx, srcs, indexes(len(srcs)), results)
	}

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range srcs {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return r.worker(gctx, srcs, jobs, results)
		})
	}

	return results, g.Wait()
}

// worker opens a sink session and imports every source index it receives.
func (r *Runner) worker(ctx context.Context, srcs []sources.Source, jobs <-chan int, results []Result) (err error) {
	session, err := r.Sinks.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open sink session: %w", err)
	}
	defer func() {
		if cerr := session.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close sink session: %w", cerr)
		}
	}()

	im := NewImporter(r.Config, r.Registry, session, r.Handler, r.Metrics).
		WithLogger(r.Logger).
		WithProgress(r.Progress)

	for i := range jobs {
		res, err := im.Import(ctx, srcs[i])
		results[i] = res
		if err != nil {
			return err
		}
	}
	return nil
}

// indexes returns a closed channel yielding 0..n-1.
func indexes(n int) <-chan int {
	ch := make(chan int, n)
	for i := 0; i < n; i++ {
		ch <- i
	}
	close(ch)
	return ch
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/ingest"
	"github.com/logflow/jsonimport/pkg/ingest/sources"
	"github.com/logflow/jsonimport/pkg/lifecycle"
	"github.com/logflow/jsonimport/pkg/watch"
)

var watchPattern string

var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Import files as they appear in directories",
	Long: `Watch directories and import each new file once it has stopped changing.
Every file is imported as its own input, once. Files present when the watch
starts are not imported; use import for those.

Examples:
  jsonimport watch --timeline-name host --event-name msg /var/log/app
  jsonimport watch --pattern '*.jsonl' --sink parquet -o events.parquet spool/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	addImportFlags(watchCmd)
	watchCmd.Flags().StringVar(&watchPattern, "pattern", "", "Only import files whose name matches this glob")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := mergeFlags(nil); err != nil {
		return err
	}
	if watchPattern != "" {
		cfg.Watch.Pattern = watchPattern
	}

	ingestCfg, err := cfg.Ingest()
	if err != nil {
		return err
	}

	w, err := watch.NewWatcher(cfg.Watch.Pattern, cfg.Watch.Debounce)
	if err != nil {
		return lferrors.InvalidConfig("watch.pattern", err)
	}
	for _, dir := range args {
		if err := w.WatchDir(dir); err != nil {
			w.Close()
			return err
		}
	}

	ctx, interrupt := lifecycle.WithInterrupt(cmd.Context(), logger)
	defer interrupt.Stop()

	env, err := setup(ctx, cfg)
	if err != nil {
		w.Close()
		return err
	}
	defer env.close()

	session, err := env.sinks.Open(ctx)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to open sink session: %w", err)
	}
	defer session.Close(context.WithoutCancel(ctx))

	im := ingest.NewImporter(ingestCfg, env.registry, session, env.handler, env.metrics).
		WithLogger(logger)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w.OnFile = func(ctx context.Context, path string) error {
		_, err := im.Import(ctx, sources.NewFileSource(path))
		return err
	}
	w.OnError = func(path string, err error) {
		logger.Error("import failed", "input", path, "error", err)
		if lferrors.IsCode(err, lferrors.CodeSinkFailure) {
			cancel(err)
		}
	}
	w.OnIgnored = func(path string) {
		logger.Warn("file changed after it was imported; ignoring", "input", path)
	}

	logger.Info("watching", "dirs", args, "pattern", cfg.Watch.Pattern, "sink", cfg.Sink.Kind)
	err = w.Run(ctx)

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		env.failed = true
		return cause
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("watch stopped", "events", env.metrics.Snapshot().EventsSent)
	return nil
}

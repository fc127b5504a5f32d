package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logflow/jsonimport/pkg/ingest"
	"github.com/logflow/jsonimport/pkg/lifecycle"
	"github.com/logflow/jsonimport/pkg/tui"
)

var importCmd = &cobra.Command{
	Use:   "import [inputs...]",
	Short: "Import files as timeline events",
	Long: `Import one or more inputs. Each input is a local path, a glob pattern
(** allowed), an s3://bucket/key URL (a trailing / imports every object under
the prefix), an http(s) URL, or - for stdin. Inputs listed in the config file
are imported first.

Examples:
  jsonimport import --timeline-name host --event-name msg app.json
  jsonimport import --timeline-name pod --event-name event 'logs/**/*.jsonl'
  jsonimport import --non-json-regex '^(\w+) pid=(\d+)$' --non-json-attr level --non-json-attr pid app.log
  jsonimport import --sink parquet -o events.parquet s3://bucket/exports/
  cat events.json | jsonimport import --dry-run -`,
	RunE: runImport,
}

func init() {
	addImportFlags(importCmd)
	importCmd.Flags().IntVarP(&flagCfg.Parallel, "parallel", "j", 0, "Import this many inputs at once, each on its own sink session")
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := mergeFlags(args); err != nil {
		return err
	}
	if len(cfg.Inputs) == 0 {
		logger.Error("no inputs given; nothing to import")
		return nil
	}

	ingestCfg, err := cfg.Ingest()
	if err != nil {
		return err
	}

	ctx, interrupt := lifecycle.WithInterrupt(cmd.Context(), logger)
	defer interrupt.Stop()

	env, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer env.close()

	srcs, err := env.resolver.Resolve(ctx, cfg.Inputs)
	if err != nil {
		env.failed = true
		return err
	}
	if len(srcs) == 0 {
		logger.Error("inputs matched nothing; nothing to import")
		return nil
	}

	runner := &ingest.Runner{
		Config:   ingestCfg,
		Registry: env.registry,
		Sinks:    env.sinks,
		Handler:  env.handler,
		Metrics:  env.metrics,
		Logger:   logger,
		Parallel: cfg.Parallel,
	}

	var progress *tui.Progress
	if !noProgress {
		progress = tui.NewProgress(os.Stderr)
		runner.Progress = progress.Update
	}

	logger.Info("starting import",
		"inputs", len(srcs),
		"parallel", cfg.Parallel,
		"sink", cfg.Sink.Kind,
		"dry_run", cfg.DryRun,
	)

	results, err := runner.Run(ctx, srcs)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		env.failed = true
		if interrupt.Interrupted() {
			return fmt.Errorf("import interrupted: %w", err)
		}
		return err
	}

	tui.PrintSummary(os.Stderr, results, env.metrics.Snapshot(), cfg.DryRun)
	return nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/logflow/jsonimport/pkg/config"
	lferrors "github.com/logflow/jsonimport/pkg/errors"
	"github.com/logflow/jsonimport/pkg/ingest"
)

// Flags shared by import and watch. They fill a partial Config that is
// merged over the loaded one.
var (
	flagCfg config.Config

	renameTimelineFlags []string
	renameEventFlags    []string
	noProgress          bool
)

func addImportFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	// Classification
	f.StringArrayVar(&flagCfg.EventNames, "event-name", nil, "Attribute holding the event name (repeatable, first present wins)")
	f.StringVar(&flagCfg.EventNamePrefix, "event-name-prefix", "", "Prefix added to every event name")
	f.StringArrayVar(&flagCfg.TimelineNames, "timeline-name", nil, "Attribute identifying the timeline (repeatable, first present wins)")
	f.StringVar(&flagCfg.TimelineNamePrefix, "timeline-name-prefix", "", "Prefix added to every timeline name")
	f.StringArrayVar(&flagCfg.TimelineAttrs, "timeline-attr", nil, "Attribute sent as timeline metadata instead of on the event (repeatable)")
	f.StringArrayVar(&renameTimelineFlags, "rename-timeline-attr", nil, "Rename a timeline attribute: original,new (repeatable, overrides a config file rename of the same attribute)")
	f.StringArrayVar(&renameEventFlags, "rename-event-attr", nil, "Rename an event attribute: original,new (repeatable, overrides a config file rename of the same attribute)")
	f.StringVar(&flagCfg.TimestampAttr, "timestamp-attr", "", "Attribute holding the event timestamp")
	f.StringVar(&flagCfg.TimestampAttrUnits, "timestamp-attr-units", "", "Units of --timestamp-attr: s, ms, us or ns (default ns)")
	f.StringVar(&flagCfg.NonJSONRegex, "non-json-regex", "", "Regex matched against non-JSON lines")
	f.StringArrayVar(&flagCfg.NonJSONAttrs, "non-json-attr", nil, "Attribute name for each regex capture group, in order (replaces the config list)")
	f.StringVar(&flagCfg.RunID, "run-id", "", "UUID attached to every timeline as run_id")
	f.StringArrayVar(&flagCfg.AdditionalTimelineAttrs, "additional-timeline-attr", nil, "key=value added to timelines that lack key (repeatable)")
	f.StringArrayVar(&flagCfg.OverrideTimelineAttrs, "override-timeline-attr", nil, "key=value set on every timeline (repeatable)")

	// Sink
	f.BoolVar(&flagCfg.DryRun, "dry-run", false, "Process inputs but send nothing")
	f.StringVar(&flagCfg.Sink.Kind, "sink", "", "Sink kind: ndjson, parquet or memory")
	f.StringVar(&flagCfg.Sink.Network, "sink-network", "", "Network for the ndjson sink: tcp or unix")
	f.StringVar(&flagCfg.Sink.Address, "sink-address", "", "Address of the ndjson sink")
	f.StringVarP(&flagCfg.Sink.Path, "output", "o", "", "Output file for the parquet sink")

	// Errors
	f.StringVar(&flagCfg.Errors.Policy, "error-policy", "", "What to do with bad records: strict, skip or quarantine")
	f.IntVar(&flagCfg.Errors.MaxErrors, "max-errors", 0, "Stop after this many skipped records (0 = no limit)")
	f.StringVar(&flagCfg.Errors.QuarantinePath, "quarantine-path", "", "JSONL file receiving rejected records")

	// Infrastructure
	f.StringVar(&flagCfg.Registry.RedisAddress, "redis-address", "", "Redis server sharing timeline ids between processes")
	f.BoolVar(&flagCfg.Telemetry.Enabled, "trace", false, "Export traces over OTLP/gRPC")
	f.StringVar(&flagCfg.Telemetry.Endpoint, "trace-endpoint", "", "OTLP/gRPC endpoint")
	f.BoolVar(&noProgress, "no-progress", false, "Disable progress bars")
}

// mergeFlags folds the command-line values into cfg.
func mergeFlags(inputs []string) error {
	for _, s := range renameTimelineFlags {
		r, err := ingest.ParseRename(s)
		if err != nil {
			return lferrors.InvalidConfig("rename-timeline-attr", err)
		}
		flagCfg.RenameTimelineAttrs = append(flagCfg.RenameTimelineAttrs, r)
	}
	for _, s := range renameEventFlags {
		r, err := ingest.ParseRename(s)
		if err != nil {
			return lferrors.InvalidConfig("rename-event-attr", err)
		}
		flagCfg.RenameEventAttrs = append(flagCfg.RenameEventAttrs, r)
	}
	flagCfg.Inputs = inputs

	cfg.Merge(&flagCfg)
	return cfg.Validate()
}

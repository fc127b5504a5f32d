// jsonimport reads JSON objects, JSON arrays and regex-matched log lines and
// sends them as events on timelines to an event sink.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/logflow/jsonimport/internal/logging"
	"github.com/logflow/jsonimport/pkg/config"
	"github.com/logflow/jsonimport/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFormat  string
)

// Loaded by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "jsonimport",
	Short: "Import JSON and log lines as timeline events",
	Long: `jsonimport reads files made of JSON objects, JSON arrays of objects and
free-text lines, and sends every object as an event on a timeline.

Free-text lines are matched with --non-json-regex; their captures are attached
to the objects that follow.

Configuration is read from --config, $JSONIMPORT_CONFIG or ./.jsonimport.yaml,
and command-line flags are merged on top.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceErrors:     true,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "jsonimport %s (%s) %s %s/%s\n",
			version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $JSONIMPORT_CONFIG or ./.jsonimport.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(debugSinkCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and sets up logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loaded.Merge(&config.Config{Log: config.LogConfig{Level: logLevel, Format: logFormat}})
	cfg = loaded

	logger = logging.Init(cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	if cfg.Source != "" {
		logger.Debug("loaded config", "path", cfg.Source)
	}
	return nil
}

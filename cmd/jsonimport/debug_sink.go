package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logflow/jsonimport/pkg/lifecycle"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/sink/memory"
	"github.com/logflow/jsonimport/pkg/sink/ndjson"
	"github.com/logflow/jsonimport/pkg/sink/parquet"
)

var (
	debugListen  string
	debugNetwork string
	debugOutput  string
)

var debugSinkCmd = &cobra.Command{
	Use:   "debug-sink",
	Short: "Run a local ndjson sink that logs every call",
	Long: `Run an ndjson sink server for testing imports without a real backend.
Calls are logged (use --log-level debug to see every key and timeline) and
recorded in memory, or written to a Parquet file with --output.

Examples:
  jsonimport debug-sink
  jsonimport debug-sink --listen /tmp/sink.sock --network unix
  jsonimport debug-sink -o received.parquet`,
	Args: cobra.NoArgs,
	RunE: runDebugSink,
}

func init() {
	debugSinkCmd.Flags().StringVar(&debugListen, "listen", "", "Address to listen on (default: sink.address from config)")
	debugSinkCmd.Flags().StringVar(&debugNetwork, "network", "", "tcp or unix (default: sink.network from config)")
	debugSinkCmd.Flags().StringVarP(&debugOutput, "output", "o", "", "Write received calls to this Parquet file")
}

func runDebugSink(cmd *cobra.Command, args []string) error {
	address := cfg.Sink.Address
	if debugListen != "" {
		address = debugListen
	}
	network := cfg.Sink.Network
	if debugNetwork != "" {
		network = debugNetwork
	}

	shutdown := lifecycle.NewShutdownManager(lifecycle.DefaultShutdownConfig())
	defer func() {
		if err := shutdown.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	var backend sink.Factory
	store := memory.New()
	if debugOutput != "" {
		w, err := parquet.NewWriter(debugOutput, parquet.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to create parquet output: %w", err)
		}
		shutdown.RegisterCloser("parquet", w)
		backend = w
	} else {
		backend = store
		shutdown.RegisterCloser("summary", lifecycle.CloserFunc(func() error {
			fmt.Fprintf(os.Stderr, "received %d events, %d metadata updates, %d keys over %d sessions\n",
				len(store.Events()), len(store.CallsOf(memory.OpMetadata)), len(store.Keys()), store.Closed())
			return nil
		}))
	}

	ctx, interrupt := lifecycle.WithInterrupt(cmd.Context(), logger)
	defer interrupt.Stop()

	srv := ndjson.NewServer(network, address, cfg.Sink.Token, backend, logger)
	shutdown.RegisterCloser("server", lifecycle.CloserFunc(func() error {
		srv.Shutdown()
		return nil
	}))

	return srv.Start(ctx)
}

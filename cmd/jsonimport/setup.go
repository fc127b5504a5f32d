package main

import (
	"context"
	"fmt"
	"time"

	"github.com/logflow/jsonimport/pkg/config"
	ingerrors "github.com/logflow/jsonimport/pkg/ingest/errors"
	"github.com/logflow/jsonimport/pkg/ingest/sources"
	"github.com/logflow/jsonimport/pkg/lifecycle"
	"github.com/logflow/jsonimport/pkg/sink"
	"github.com/logflow/jsonimport/pkg/sink/memory"
	"github.com/logflow/jsonimport/pkg/sink/ndjson"
	"github.com/logflow/jsonimport/pkg/sink/parquet"
	s3store "github.com/logflow/jsonimport/pkg/storage/s3"
	"github.com/logflow/jsonimport/pkg/telemetry"
	"github.com/logflow/jsonimport/pkg/timeline"
)

// runEnv holds everything a run needs besides the ingest config.
type runEnv struct {
	registry *timeline.Registry
	sinks    sink.Factory
	handler  *ingerrors.Handler
	metrics  *telemetry.Metrics
	resolver *sources.Resolver
	shutdown *lifecycle.ShutdownManager

	// failed makes the parquet sink discard its output on shutdown.
	failed bool
}

// setup builds the run environment from cfg. Resources are registered
// with the shutdown manager, which the caller must shut down.
func setup(ctx context.Context, cfg *config.Config) (*runEnv, error) {
	env := &runEnv{
		metrics:  telemetry.NewMetrics(),
		shutdown: lifecycle.NewShutdownManager(lifecycle.DefaultShutdownConfig()),
	}

	if cfg.Telemetry.Enabled {
		oc := telemetry.DefaultOTLPConfig("jsonimport")
		oc.Endpoint = cfg.Telemetry.Endpoint
		oc.InsecureTLS = cfg.Telemetry.Insecure
		oc.ServiceVersion = version
		stop, err := telemetry.InitOTLP(ctx, oc)
		if err != nil {
			return nil, fmt.Errorf("failed to start tracing: %w", err)
		}
		env.shutdown.RegisterCloser("tracing", lifecycle.CloserFunc(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return stop(sctx)
		}))
	}

	var opts []timeline.Option
	if cfg.Registry.RedisAddress != "" {
		rc := timeline.DefaultRedisConfig(cfg.Registry.RedisAddress)
		rc.Prefix = cfg.Registry.RedisPrefix
		rc.Run = cfg.RunID
		store, err := timeline.NewRedisStore(ctx, rc)
		if err != nil {
			env.shutdown.Shutdown(context.Background())
			return nil, fmt.Errorf("failed to connect to timeline store: %w", err)
		}
		env.shutdown.RegisterCloser("redis", store)
		opts = append(opts, timeline.WithStore(store))
	}
	env.registry = timeline.NewRegistry(opts...)

	handler, closeQuarantine, err := cfg.Handler()
	if err != nil {
		env.shutdown.Shutdown(context.Background())
		return nil, err
	}
	env.handler = handler
	env.shutdown.RegisterCloser("quarantine", lifecycle.CloserFunc(closeQuarantine))

	sinks, err := env.openSinks(cfg)
	if err != nil {
		env.shutdown.Shutdown(context.Background())
		return nil, err
	}
	env.sinks = sinks

	env.resolver = &sources.Resolver{
		S3: func(ctx context.Context) (sources.ObjectStore, error) {
			sc := s3store.DefaultConfig(cfg.S3.Region)
			sc.Endpoint = cfg.S3.Endpoint
			sc.UsePathStyle = cfg.S3.PathStyle
			client, err := s3store.NewClient(ctx, sc)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		HTTP:   &sources.HTTPSourceOptions{},
		Logger: logger,
	}
	return env, nil
}

// openSinks selects the sink factory. Dry runs always use the in-memory
// sink.
func (env *runEnv) openSinks(cfg *config.Config) (sink.Factory, error) {
	kind, err := sink.ParseKind(cfg.Sink.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.DryRun {
		kind = sink.KindMemory
	}

	switch kind {
	case sink.KindMemory:
		return memory.New(), nil

	case sink.KindParquet:
		opts := parquet.DefaultOptions()
		opts.Metadata = map[string]string{"version": version}
		if cfg.RunID != "" {
			opts.Metadata["run_id"] = cfg.RunID
		}
		w, err := parquet.NewWriter(cfg.Sink.Path, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create parquet output: %w", err)
		}
		env.shutdown.RegisterCloser("parquet", lifecycle.CloserFunc(func() error {
			if env.failed {
				return w.Abort()
			}
			logger.Info("wrote parquet output", "path", w.Path(), "rows", w.Rows())
			return w.Close()
		}))
		return w, nil

	default:
		return ndjson.NewFactory(ndjson.Options{
			Network: cfg.Sink.Network,
			Address: cfg.Sink.Address,
			Token:   cfg.Sink.Token,
			Client:  "jsonimport/" + version,
			Timeout: cfg.Sink.Timeout,
		}), nil
	}
}

// close shuts down every registered resource and logs failures.
func (env *runEnv) close() {
	if err := env.shutdown.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"multitask-eval/internal/config"
	"multitask-eval/internal/dataset"
	"multitask-eval/internal/evaluator"
	"multitask-eval/internal/model"
)

type options struct {
	cfgPath     string
	overrides   config.Overrides
	localRank   int
	prefix      string
	featureDim  int
	seed        int64
	logLevel    string
	metricsAddr string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "multitask-eval",
		Short:         "Evaluate a multi-task model on a held-out split",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("local-rank") {
				opts.overrides.LocalRank = &opts.localRank
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cfgPath, "config", "configs/demo.yaml", "Path to YAML config")
	f.StringVar(&opts.overrides.DevDataDir, "dev-data-dir", "", "Override evaluation data directory")
	f.StringVar(&opts.overrides.OutputDir, "output-dir", "", "Override output directory")
	f.IntVar(&opts.overrides.BatchSize, "batch-size", 0, "Per-device evaluation batch size")
	f.IntVar(&opts.overrides.BufferSize, "buffer-size", 0, "Batches buffered ahead of the model")
	f.IntVar(&opts.overrides.NumWorkers, "num-workers", 0, "Number of shard reader workers")
	f.IntVar(&opts.localRank, "local-rank", -1, "Process rank, -1 for single process")
	f.StringVar(&opts.overrides.Device, "device", "", "Compute device")
	f.StringVar(&opts.overrides.DebugDir, "debug-dir", "", "Directory for failed batch diagnostics")
	f.IntVar(&opts.overrides.LogEvery, "log-every", 0, "Log throughput every N steps")
	f.StringVar(&opts.prefix, "prefix", "", "Report subdirectory, usually the checkpoint name")
	f.IntVar(&opts.featureDim, "feature-dim", 0, "Input width of the demo model (0 infers from the first shard)")
	f.Int64Var(&opts.seed, "seed", 42, "Seed for the demo model weights")
	f.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyOverrides(opts.overrides)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shards, err := dataset.DiscoverShards(cfg.DevDataDir)
	if err != nil {
		return fmt.Errorf("discover shards under %s: %w", cfg.DevDataDir, err)
	}
	if len(shards) == 0 {
		return fmt.Errorf("no shards discovered under %s", cfg.DevDataDir)
	}
	logger.Info("discovered shards", slog.String("root", cfg.DevDataDir), slog.Int("shards", len(shards)))

	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(opts.metricsAddr, logger)
		defer stopMetrics()
	}

	dim := opts.featureDim
	if dim <= 0 {
		if dim, err = inferFeatureDim(ctx, shards[0], cfg.Header); err != nil {
			return err
		}
	}
	mdl := model.NewLinearHeads(dim, cfg.Tasks().Heads(), opts.seed)

	ev, err := evaluator.New(evaluator.Options{
		Config: cfg,
		Model:  mdl,
		Prefix: opts.prefix,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if _, err := ev.Evaluate(ctx); err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func serveMetrics(addr string, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// inferFeatureDim reads the first data row of a shard and counts its features.
func inferFeatureDim(ctx context.Context, shard string, header bool) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	records, errs := dataset.StreamShard(ctx, shard, header)
	for rec := range records {
		if len(rec.Fields) < 2 {
			return 0, fmt.Errorf("%w: %s:%d has no feature column", dataset.ErrMalformedRow, rec.Path, rec.Line)
		}
		return len(strings.Fields(rec.Fields[1])), nil
	}
	if err := <-errs; err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("shard %s has no rows", shard)
}

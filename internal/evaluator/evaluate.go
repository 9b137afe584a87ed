// Package evaluator runs a model over a held-out split and summarises the
// per-task losses of every batch that evaluated successfully.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"multitask-eval/internal/config"
	"multitask-eval/internal/dataset"
	"multitask-eval/internal/device"
	"multitask-eval/internal/metrics"
	"multitask-eval/internal/model"
)

// ErrAlreadyRun is returned when Evaluate is called on a used Evaluator.
var ErrAlreadyRun = errors.New("evaluator: already run")

// BatchSource yields batches until io.EOF.
type BatchSource interface {
	Next(ctx context.Context) (model.Batch, error)
	Close() error
}

// OpenFunc starts a fresh pass over the evaluation data.
type OpenFunc func(ctx context.Context) (BatchSource, error)

// Options configures an Evaluator. Config and Model are required.
type Options struct {
	Config *config.Config
	Model  model.Model
	Prefix string

	// Placer defaults to the device named in Config.
	Placer device.Placer
	// Open defaults to a dataset.Loader over Config.DevDataDir.
	Open OpenFunc
	// Progress receives the single-line status; defaults to os.Stdout.
	Progress io.Writer
	Logger   *slog.Logger
}

type state int

const (
	stateInit state = iota
	stateLooping
	stateFinalizing
	stateDone
)

// Evaluator drives a single evaluation pass. It is not reusable.
type Evaluator struct {
	cfg      *config.Config
	model    model.Model
	prefix   string
	placer   device.Placer
	open     OpenFunc
	progress io.Writer
	logger   *slog.Logger
	isolator *Isolator
	state    state
}

// New validates opts and fills in defaults.
func New(opts Options) (*Evaluator, error) {
	if opts.Config == nil {
		return nil, errors.New("evaluator: config is required")
	}
	if opts.Model == nil {
		return nil, errors.New("evaluator: model is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	placer := opts.Placer
	if placer == nil {
		p, err := device.Parse(cfg.Device)
		if err != nil {
			return nil, err
		}
		placer = p
	}
	open := opts.Open
	if open == nil {
		open = LoaderSource(cfg)
	}
	progress := opts.Progress
	if progress == nil {
		progress = os.Stdout
	}
	return &Evaluator{
		cfg:      cfg,
		model:    opts.Model,
		prefix:   opts.Prefix,
		placer:   placer,
		open:     open,
		progress: progress,
		logger:   logger,
		isolator: NewIsolator(cfg.LocalRank, cfg.DebugDir, logger),
	}, nil
}

// LoaderSource opens the sharded files under cfg.DevDataDir in file order.
func LoaderSource(cfg *config.Config) OpenFunc {
	return func(ctx context.Context) (BatchSource, error) {
		loader, err := dataset.NewLoader(dataset.LoaderOptions{
			Dir:           cfg.DevDataDir,
			BatchSize:     cfg.BatchSize,
			BufferSize:    cfg.BufferSize,
			Workers:       cfg.NumWorkers,
			Header:        cfg.Header,
			Shuffle:       false,
			TaskLevelType: cfg.TaskLevelType,
			Tasks:         cfg.Tasks(),
		})
		if err != nil {
			return nil, err
		}
		return loader.Open(ctx), nil
	}
}

// Evaluate runs the model over every batch, writes
// <output_dir>/<prefix>/dev_metrics.txt and returns the report.
//
// A batch whose forward pass fails is recorded by the Isolator and skipped.
// Errors reading or transferring a batch, or a forward result of unknown
// shape, abort the run without a report.
func (e *Evaluator) Evaluate(ctx context.Context) (report *Report, err error) {
	if e.state != stateInit {
		return nil, ErrAlreadyRun
	}
	defer func() { e.state = stateDone }()

	runID := uuid.NewString()
	saveDir := filepath.Join(e.cfg.OutputDir, e.prefix)
	logger := e.logger.With(slog.String("run_id", runID), slog.String("prefix", e.prefix))

	ctx, span := tracer.Start(ctx, "evaluate", trace.WithAttributes(
		attribute.String("eval.run_id", runID),
		attribute.String("eval.prefix", e.prefix),
		attribute.Int("eval.rank", e.cfg.LocalRank),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if e.cfg.Primary() {
		if err := os.MkdirAll(saveDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	logger.Info("running evaluation",
		slog.String("dir", saveDir),
		slog.Int("batch_size", e.cfg.BatchSize),
		slog.Int("rank", e.cfg.LocalRank))

	src, err := e.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open batch source: %w", err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("close batch source", slog.String("error", cerr.Error()))
		}
	}()
	e.model.Eval()

	e.state = stateLooping
	run, err := e.loop(ctx, src, logger)
	if err != nil {
		return nil, err
	}

	e.state = stateFinalizing
	var extra map[string]float64
	if run.collector != nil {
		extra = run.collector.Results()
		for name, n := range run.collector.Skipped() {
			logger.Warn("metric inputs skipped, shape does not match task",
				slog.String("task", name),
				slog.Int("steps", n))
		}
	}
	allResult, loss, detail := metrics.Finalize(run.totals, run.steps, extra)
	report = &Report{
		RunID:            runID,
		Prefix:           e.prefix,
		AllResult:        allResult,
		Loss:             loss,
		LossDetail:       detail,
		Steps:            run.steps,
		FailedSteps:      run.failed,
		AttemptedSamples: run.attempted,
	}
	path, err := WriteReport(saveDir, report)
	if err != nil {
		return nil, err
	}
	report.Path = path
	averageLoss.WithLabelValues(e.prefix).Set(loss)
	span.SetAttributes(
		attribute.Int("eval.steps", run.steps),
		attribute.Int("eval.failed_steps", run.failed),
		attribute.Float64("eval.loss", loss),
	)
	logger.Info("evaluation finished",
		slog.Int("steps", run.steps),
		slog.Int("failed_steps", run.failed),
		slog.Int("samples", run.attempted),
		slog.Float64("loss", loss),
		slog.String("report", path))
	return report, nil
}

type runState struct {
	totals    metrics.Totals
	totalLoss float64
	steps     int
	failed    int
	attempted int
	collector *metrics.Collector
}

func (e *Evaluator) loop(ctx context.Context, src BatchSource, logger *slog.Logger) (*runState, error) {
	tasks := e.cfg.ActiveTasks()
	opts := model.ForwardOptions{
		OutputKeys:         tasks.OutputKeys(model.GroupGene),
		ProteinOutputKeys:  tasks.OutputKeys(model.GroupProtein),
		PairOutputKeys:     tasks.OutputKeys(model.GroupPair),
		OutputAttentions:   true,
		OutputHiddenStates: true,
	}
	forward := func(ctx context.Context, b model.Batch) (model.Result, error) {
		return e.model.Forward(ctx, b, opts)
	}

	run := &runState{totals: metrics.Totals{}}
	if e.cfg.ComputeMetrics {
		run.collector = metrics.NewCollector(tasks)
	}
	progress := metrics.NewProgress(e.progress)
	defer progress.Finish()
	var window metrics.Window

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		startData := time.Now()
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return run, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read batch %d: %w", step, err)
		}
		batch, n, err := e.placer.Place(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("transfer batch %d: %w", step, err)
		}
		dataTime := time.Since(startData)

		// Counted before the forward pass: failed batches still add to the
		// sample total shown in the progress line.
		run.attempted += n
		samplesAttempted.Add(float64(n))

		startCompute := time.Now()
		res, failure := e.isolator.Invoke(ctx, step, batch, forward)
		if failure != nil {
			run.failed++
			batchesTotal.WithLabelValues("failed").Inc()
			trace.SpanFromContext(ctx).AddEvent("batch_failed", trace.WithAttributes(
				attribute.Int("eval.step", step),
				attribute.String("error", failure.Err.Error()),
			))
			continue
		}
		computeTime := time.Since(startCompute)

		losses, outputs, groups, err := model.Adapt(res)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", step, err)
		}
		var cur float64
		_, run.totals, run.totalLoss, cur = metrics.Accumulate(losses, run.totals, run.totalLoss)
		if run.collector != nil {
			run.collector.Observe(groups, outputs, batch.Labels)
		}

		progress.Update(step+1, run.attempted, cur, run.totalLoss/float64(run.steps+1))
		run.steps++
		batchesTotal.WithLabelValues("ok").Inc()
		stepDuration.Observe(computeTime.Seconds())

		window.Record(n, dataTime, computeTime, cur)
		if window.Steps() >= e.cfg.LogEvery {
			snap := window.Snapshot()
			logger.Info("eval throughput",
				slog.Int("step", step+1),
				slog.Float64("samples_per_sec", snap.SamplesPerSec),
				slog.Float64("data_ms", snap.AvgDataMS),
				slog.Float64("compute_ms", snap.AvgComputeMS),
				slog.Float64("mean_loss", snap.MeanLoss))
		}
	}
}

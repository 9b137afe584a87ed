package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"multitask-eval/internal/model"
)

// ErrModelPanic wraps a panic raised inside a forward pass.
var ErrModelPanic = errors.New("evaluator: model panicked")

const detailsFile = "evaluate_exception_input_details.txt"

// BatchFailure describes a batch whose forward pass failed and was skipped.
type BatchFailure struct {
	Step int
	Err  error
}

func (f *BatchFailure) Error() string {
	return fmt.Sprintf("batch %d: %v", f.Step, f.Err)
}

func (f *BatchFailure) Unwrap() error {
	return f.Err
}

// ForwardFunc runs the model on one batch.
type ForwardFunc func(ctx context.Context, batch model.Batch) (model.Result, error)

// Isolator runs one forward pass per batch and turns any error or panic into
// a BatchFailure plus rank-scoped diagnostic files under dir:
//
//	evaluate_exception_info_<rank>     error text, appended
//	evaluate_exception_input_<rank>    one-line batch dump, appended
//	debug/dev/local_rank[_<rank>]/<step>/evaluate_exception_input_details.txt
type Isolator struct {
	rank   int
	dir    string
	logger *slog.Logger
}

// NewIsolator returns an Isolator writing diagnostics for rank under dir.
func NewIsolator(rank int, dir string, logger *slog.Logger) *Isolator {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Isolator{rank: rank, dir: dir, logger: logger}
}

// InfoPath is the file collecting error messages.
func (i *Isolator) InfoPath() string {
	return filepath.Join(i.dir, fmt.Sprintf("evaluate_exception_info_%d", i.rank))
}

// InputPath is the file collecting one-line batch dumps.
func (i *Isolator) InputPath() string {
	return filepath.Join(i.dir, fmt.Sprintf("evaluate_exception_input_%d", i.rank))
}

// DebugPath is the directory holding the detailed dump of the batch at step.
func (i *Isolator) DebugPath(step int) string {
	name := "local_rank"
	if i.rank >= 0 {
		name += "_" + strconv.Itoa(i.rank)
	}
	return filepath.Join(i.dir, "debug", "dev", name, strconv.Itoa(step))
}

// Invoke calls forward. On success the result is returned untouched. On
// failure the diagnostics are written and a non-nil BatchFailure is returned;
// the failure is never propagated as a panic.
func (i *Isolator) Invoke(ctx context.Context, step int, batch model.Batch, forward ForwardFunc) (model.Result, *BatchFailure) {
	res, err := protect(ctx, batch, forward)
	if err == nil {
		return res, nil
	}
	failure := &BatchFailure{Step: step, Err: err}
	i.logger.Warn("forward pass failed, skipping batch",
		slog.Int("step", step),
		slog.Int("rank", i.rank),
		slog.String("error", err.Error()))
	i.record(step, batch, err)
	return nil, failure
}

func protect(ctx context.Context, batch model.Batch, forward ForwardFunc) (res model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrModelPanic, r)
		}
	}()
	return forward(ctx, batch)
}

// record writes every diagnostic it can. Write failures are logged only.
func (i *Isolator) record(step int, batch model.Batch, cause error) {
	if err := appendLine(i.InfoPath(), cause.Error()); err != nil {
		i.diagnosticFailed("info", err)
	}
	if err := appendLine(i.InputPath(), batch.String()); err != nil {
		i.diagnosticFailed("input", err)
	}
	if err := i.dumpDetails(step, batch); err != nil {
		i.diagnosticFailed("details", err)
	}
}

func (i *Isolator) dumpDetails(step int, batch model.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dump panicked: %v", r)
		}
	}()
	dir := i.DebugPath(step)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, detailsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := batch.Dump(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (i *Isolator) diagnosticFailed(kind string, err error) {
	diagnosticErrors.Inc()
	i.logger.Error("write batch diagnostics",
		slog.String("kind", kind),
		slog.Int("rank", i.rank),
		slog.String("error", err.Error()))
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

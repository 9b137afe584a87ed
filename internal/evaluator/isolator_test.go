package evaluator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multitask-eval/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleBatch() model.Batch {
	return model.Batch{Fields: map[string]model.Tensor{
		model.FeaturesField: {Shape: []int{1, 2}, Data: []float64{1, 2}},
	}}
}

func TestIsolatorPaths(t *testing.T) {
	single := NewIsolator(-1, "/tmp/diag", nil)
	assert.Equal(t, "/tmp/diag/evaluate_exception_info_-1", single.InfoPath())
	assert.Equal(t, "/tmp/diag/evaluate_exception_input_-1", single.InputPath())
	assert.Equal(t, "/tmp/diag/debug/dev/local_rank/7", single.DebugPath(7))

	ranked := NewIsolator(2, "/tmp/diag", nil)
	assert.Equal(t, "/tmp/diag/debug/dev/local_rank_2/0", ranked.DebugPath(0))

	assert.Equal(t, "debug/dev/local_rank_0/1", NewIsolator(0, "", nil).DebugPath(1))
}

func TestIsolatorSuccessWritesNothing(t *testing.T) {
	dir := t.TempDir()
	iso := NewIsolator(0, dir, quietLogger())
	want := model.StructuredResult{Losses: model.LossSet{"l": {"t": 1}}}

	res, failure := iso.Invoke(context.Background(), 0, sampleBatch(),
		func(context.Context, model.Batch) (model.Result, error) { return want, nil })
	assert.Nil(t, failure)
	assert.Equal(t, want, res)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsolatorRecordsErrors(t *testing.T) {
	dir := t.TempDir()
	iso := NewIsolator(1, dir, quietLogger())
	boom := errors.New("boom")
	forward := func(context.Context, model.Batch) (model.Result, error) { return nil, boom }

	_, failure := iso.Invoke(context.Background(), 3, sampleBatch(), forward)
	require.NotNil(t, failure)
	assert.Equal(t, 3, failure.Step)
	assert.ErrorIs(t, failure, boom)
	_, failure = iso.Invoke(context.Background(), 5, sampleBatch(), forward)
	require.NotNil(t, failure)

	info, err := os.ReadFile(iso.InfoPath())
	require.NoError(t, err)
	assert.Equal(t, "boom\nboom\n", string(info))

	input, err := os.ReadFile(iso.InputPath())
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(input)), "\n"), 2)

	details, err := os.ReadFile(filepath.Join(iso.DebugPath(3), detailsFile))
	require.NoError(t, err)
	assert.Contains(t, string(details), "features:\nshape: [1 2]\n")
	assert.DirExists(t, iso.DebugPath(5))
}

func TestIsolatorRecoversPanics(t *testing.T) {
	iso := NewIsolator(0, t.TempDir(), quietLogger())
	res, failure := iso.Invoke(context.Background(), 0, sampleBatch(),
		func(context.Context, model.Batch) (model.Result, error) { panic("index out of range") })
	assert.Nil(t, res)
	require.NotNil(t, failure)
	assert.ErrorIs(t, failure, ErrModelPanic)
	assert.Contains(t, failure.Error(), "index out of range")
}

func TestIsolatorDiagnosticFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// dir is a regular file, so no diagnostic can be written.
	iso := NewIsolator(0, blocker, quietLogger())
	_, failure := iso.Invoke(context.Background(), 0, sampleBatch(),
		func(context.Context, model.Batch) (model.Result, error) { return nil, errors.New("x") })
	require.NotNil(t, failure)
	assert.EqualError(t, failure.Err, "x")
}

package evaluator

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multitask-eval/internal/metrics"
)

func TestReportFormat(t *testing.T) {
	r := &Report{
		Prefix: "checkpoint-5",
		Loss:   0.25,
		LossDetail: metrics.LossDetail{
			"seq_level": {"gene_type": 0.25},
		},
		AllResult: map[string]float64{
			"seq_level_gene_type_loss": 0.25,
			"loss":                     0.25,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, r.Format(&buf))
	assert.Equal(t,
		"***** Dev results checkpoint-5 *****\n"+
			"Dev average loss = 0.250000\n"+
			"Dev detail loss = {\"seq_level\":{\"gene_type\":0.25}}\n"+
			"loss = 0.25\n"+
			"seq_level_gene_type_loss = 0.25\n",
		buf.String())
}

func TestWriteReportReplaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "prefix")

	path, err := WriteReport(dir, &Report{Prefix: "a", Loss: 1})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ReportFile), path)

	_, err = WriteReport(dir, &Report{Prefix: "b", Loss: 2})
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "***** Dev results b *****")
	assert.NotContains(t, string(content), "Dev results a")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestReportFormatNonFinite(t *testing.T) {
	r := &Report{
		Prefix: "p",
		Loss:   math.Inf(1),
		LossDetail: metrics.LossDetail{
			"token_level": {"gene_mask": math.NaN()},
			"seq_level":   {"gene_type": math.Inf(1), "exon": -0.5},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, r.Format(&buf))
	assert.Contains(t, buf.String(), "Dev average loss = +Inf\n")
	assert.Contains(t, buf.String(),
		`Dev detail loss = {"seq_level":{"exon":-0.5,"gene_type":+Inf},"token_level":{"gene_mask":NaN}}`)
}

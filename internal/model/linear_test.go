package model

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeads() []HeadSpec {
	return []HeadSpec{
		{Group: GroupGene, Level: "seq_level", Task: "gene_type", LabelSize: 3, OutputMode: ModeMultiClass},
		{Group: GroupProtein, Level: "seq_level", Task: "prot_bin", LabelSize: 1, OutputMode: ModeBinary},
	}
}

func testBatch() Batch {
	return Batch{
		Fields: map[string]Tensor{
			FeaturesField: {Shape: []int{2, 4}, Data: []float64{0.1, 0.2, 0.3, 0.4, 0.4, 0.3, 0.2, 0.1}},
		},
		Labels: map[Group]LabelSet{
			GroupGene: {"seq_level": {"gene_type": {Shape: []int{2, 1}, Data: []float64{1, 2}}}},
		},
	}
}

func TestLinearHeadsForward(t *testing.T) {
	m := NewLinearHeads(4, testHeads(), 1)
	require.True(t, m.Training())
	m.Eval()
	require.False(t, m.Training())

	opts := ForwardOptions{
		OutputKeys:        map[string][]string{"seq_level": {"gene_type"}},
		ProteinOutputKeys: map[string][]string{"seq_level": {"prot_bin"}},
	}
	res, err := m.Forward(context.Background(), testBatch(), opts)
	require.NoError(t, err)

	sr, ok := res.(StructuredResult)
	require.True(t, ok)
	assert.Greater(t, sr.Losses["seq_level"]["gene_type"], 0.0)
	assert.Empty(t, sr.ProteinLosses, "protein head has no labels")

	probs := sr.Outputs["seq_level"]["gene_type"]
	assert.Equal(t, []int{2, 3}, probs.Shape)
	sum := 0.0
	for _, p := range probs.Row(0) {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, sr.ProteinOutputs["seq_level"]["prot_bin"].Data, 2)
}

func TestLinearHeadsSkipsUnrequestedHeads(t *testing.T) {
	m := NewLinearHeads(4, testHeads(), 1)
	res, err := m.Forward(context.Background(), testBatch(), ForwardOptions{
		OutputKeys: map[string][]string{"seq_level": {"gene_type"}},
	})
	require.NoError(t, err)
	sr := res.(StructuredResult)
	assert.Nil(t, sr.ProteinOutputs)
}

func TestLinearHeadsDeterministic(t *testing.T) {
	opts := ForwardOptions{OutputKeys: map[string][]string{"seq_level": {"gene_type"}}}
	r1, err := NewLinearHeads(4, testHeads(), 7).Forward(context.Background(), testBatch(), opts)
	require.NoError(t, err)
	r2, err := NewLinearHeads(4, testHeads(), 7).Forward(context.Background(), testBatch(), opts)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestLinearHeadsRejectsWidthMismatch(t *testing.T) {
	m := NewLinearHeads(5, testHeads(), 1)
	_, err := m.Forward(context.Background(), testBatch(), ForwardOptions{})
	assert.True(t, errors.Is(err, ErrFeatureWidth))
}

func TestBatchStringAndDump(t *testing.T) {
	b := testBatch()
	s := b.String()
	assert.True(t, strings.HasPrefix(s, "{features: [2 4]"))
	assert.Contains(t, s, "labels.gene.seq_level.gene_type")
	assert.NotContains(t, s, "\n")

	var buf bytes.Buffer
	require.NoError(t, b.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "features:\nshape: [2 4]\n0: [0.1 0.2 0.3 0.4]\n")
	assert.Contains(t, out, "labels.gene.seq_level.gene_type:\nshape: [2 1]\n")
}

package dataset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multitask-eval/internal/model"
)

func TestDenseBatcherEncodesEveryMode(t *testing.T) {
	tasks := model.Tasks{
		model.GroupGene: {
			LabelSize: map[string]map[string]int{"seq_level": {"cls": 3, "tags": 4}},
			OutputMode: map[string]map[string]string{"seq_level": {
				"cls":  model.ModeMultiClass,
				"tags": model.ModeMultiLabel,
			}},
		},
		model.GroupPair: {
			LabelSize:  map[string]map[string]int{"seq_level": {"affinity": 1, "ppi": 1}},
			OutputMode: map[string]map[string]string{"seq_level": {"affinity": model.ModeRegression, "ppi": model.ModeBinary}},
		},
	}
	rows := [][]string{
		{"r0", "1 2", "2", "0 3", "0.5", "1"},
		{"r1", "3 4", "0", "", "1.5", "0"},
	}

	b, err := DenseBatcher(rows, tasks)
	require.NoError(t, err)

	assert.Equal(t, model.Tensor{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}, b.Fields[model.FeaturesField])
	gene := b.Labels[model.GroupGene]["seq_level"]
	assert.Equal(t, []float64{2, 0}, gene["cls"].Data)
	assert.Equal(t, []int{2, 4}, gene["tags"].Shape)
	assert.Equal(t, []float64{1, 0, 0, 1, 0, 0, 0, 0}, gene["tags"].Data)
	pair := b.Labels[model.GroupPair]["seq_level"]
	assert.Equal(t, []float64{0.5, 1.5}, pair["affinity"].Data)
	assert.Equal(t, []float64{1, 0}, pair["ppi"].Data)
	_, hasProtein := b.Labels[model.GroupProtein]
	assert.False(t, hasProtein)
}

func TestDenseBatcherRejectsBadRows(t *testing.T) {
	tasks := geneTasks()
	cases := map[string][][]string{
		"empty":          {},
		"short row":      {{"r0", "1 2"}},
		"ragged":         {{"r0", "1 2", "0"}, {"r1", "1", "0"}},
		"class range":    {{"r0", "1 2", "7"}},
		"bad feature":    {{"r0", "1 x", "0"}},
		"bad class cell": {{"r0", "1 2", "one"}},
	}
	for name, rows := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DenseBatcher(rows, tasks)
			assert.True(t, errors.Is(err, ErrMalformedRow), "got %v", err)
		})
	}
}

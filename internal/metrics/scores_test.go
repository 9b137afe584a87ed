package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBinary(t *testing.T) {
	got := Binary([]float64{0.9, 0.2, 0.7, 0.4}, []float64{1, 0, 0, 1}, 0.5)
	assert.InDelta(t, 0.5, got["acc"], 1e-12)
	assert.InDelta(t, 0.5, got["precision"], 1e-12)
	assert.InDelta(t, 0.5, got["recall"], 1e-12)
	assert.InDelta(t, 0.5, got["f1"], 1e-12)
}

func TestMultiClass(t *testing.T) {
	probs := []float64{
		0.7, 0.2, 0.1,
		0.1, 0.8, 0.1,
		0.2, 0.5, 0.3,
	}
	got := MultiClass(probs, 3, []float64{0, 1, 2})
	assert.InDelta(t, 2.0/3.0, got["acc"], 1e-12)
	// class 0: f1 1, class 1: p 0.5 r 1 f1 2/3, class 2: f1 0
	assert.InDelta(t, (1+2.0/3.0+0)/3, got["f1"], 1e-12)
}

func TestMultiLabel(t *testing.T) {
	probs := []float64{0.9, 0.1, 0.8, 0.6}
	labels := []float64{1, 0, 1, 0}
	got := MultiLabel(probs, 2, labels, 0.5)
	assert.InDelta(t, 0.5, got["acc"], 1e-12)
	assert.InDelta(t, 2.0/3.0, got["precision"], 1e-12)
	assert.InDelta(t, 1.0, got["recall"], 1e-12)
	assert.InDelta(t, 0.8, got["f1"], 1e-12)
}

func TestRegression(t *testing.T) {
	got := Regression([]float64{1, 2, 3}, []float64{1, 2, 5})
	assert.InDelta(t, 4.0/3.0, got["mse"], 1e-12)
	assert.InDelta(t, 2.0/3.0, got["mae"], 1e-12)

	assert.Equal(t, map[string]float64{"mse": 0, "mae": 0, "r2": 0}, Regression(nil, nil))
	flat := Regression([]float64{1, 1}, []float64{2, 2})
	assert.Equal(t, 0.0, flat["r2"])
}

func TestScoresIgnoreIncompleteRows(t *testing.T) {
	assert.NotPanics(t, func() {
		got := MultiClass([]float64{0.1, 0.9, 0.8}, 2, []float64{1, 0})
		assert.Equal(t, 1.0, got["acc"])
	})
	assert.NotPanics(t, func() {
		got := MultiLabel([]float64{0.9, 0.1, 0.9}, 2, []float64{1, 0, 1, 1}, 0.5)
		assert.Equal(t, 1.0, got["acc"])
	})
	assert.NotPanics(t, func() {
		got := Binary([]float64{0.9, 0.9}, []float64{1}, 0.5)
		assert.Equal(t, 1.0, got["acc"])
	})
	assert.NotPanics(t, func() {
		got := Regression([]float64{1, 2, 3}, []float64{1, 2})
		assert.Equal(t, 0.0, got["mse"])
	})
	assert.Equal(t, 0.0, MultiClass([]float64{1}, 0, []float64{0})["acc"])
}

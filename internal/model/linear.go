package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Output modes understood by heads, batchers and scorers.
const (
	ModeBinary     = "binary"
	ModeMultiClass = "multi_class"
	ModeMultiLabel = "multi_label"
	ModeRegression = "regression"
)

// FeaturesField is the input field LinearHeads reads.
const FeaturesField = "features"

// ErrFeatureWidth is returned when a batch's feature width does not match the model.
var ErrFeatureWidth = errors.New("model: feature width mismatch")

// HeadSpec describes one prediction head.
type HeadSpec struct {
	Group      Group
	Level      string
	Task       string
	LabelSize  int
	OutputMode string
}

// LinearHeads is a frozen multi-head linear model. Each head maps the shared
// feature vector to its own logits; there is no training path.
type LinearHeads struct {
	inputSize int
	heads     []linearHead
	training  bool
}

type linearHead struct {
	spec    HeadSpec
	weights []float64
	bias    []float64
}

// NewLinearHeads constructs the model with seeded random weights.
func NewLinearHeads(inputSize int, specs []HeadSpec, seed int64) *LinearHeads {
	if inputSize <= 0 {
		inputSize = 64
	}
	rng := rand.New(rand.NewSource(seed))
	heads := make([]linearHead, 0, len(specs))
	for _, spec := range specs {
		if spec.LabelSize <= 0 {
			spec.LabelSize = 1
		}
		weights := make([]float64, spec.LabelSize*inputSize)
		for i := range weights {
			weights[i] = (rng.Float64()*2 - 1) * 0.1
		}
		heads = append(heads, linearHead{
			spec:    spec,
			weights: weights,
			bias:    make([]float64, spec.LabelSize),
		})
	}
	return &LinearHeads{inputSize: inputSize, heads: heads, training: true}
}

// Eval marks the model as frozen.
func (m *LinearHeads) Eval() { m.training = false }

// Training reports whether Eval has not been called yet.
func (m *LinearHeads) Training() bool { return m.training }

// Forward computes predictions for every head whose task is requested in
// opts, and a loss for every head whose labels are present in the batch.
func (m *LinearHeads) Forward(ctx context.Context, batch Batch, opts ForwardOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features, ok := batch.Fields[FeaturesField]
	if !ok {
		return nil, fmt.Errorf("model: missing %q field", FeaturesField)
	}
	n := features.Rows()
	if n == 0 {
		return nil, errors.New("model: empty batch")
	}
	if len(features.Data) != n*m.inputSize {
		return nil, fmt.Errorf("%w: got %d values for %d rows, want width %d",
			ErrFeatureWidth, len(features.Data), n, m.inputSize)
	}

	var res StructuredResult
	for _, h := range m.heads {
		if !requested(h.spec, opts) {
			continue
		}
		preds := h.predict(features, m.inputSize)
		outputs, losses := res.slots(h.spec.Group)
		put(outputs, h.spec.Level, h.spec.Task, preds)

		labels, ok := batch.Labels[h.spec.Group][h.spec.Level][h.spec.Task]
		if !ok {
			continue
		}
		loss, err := h.loss(preds, labels)
		if err != nil {
			return nil, err
		}
		putLoss(losses, h.spec.Level, h.spec.Task, loss)
	}
	return res, nil
}

// slots returns the (lazily created) output and loss maps for g.
func (r *StructuredResult) slots(g Group) (Outputs, LossSet) {
	switch g {
	case GroupProtein:
		if r.ProteinOutputs == nil {
			r.ProteinOutputs, r.ProteinLosses = Outputs{}, LossSet{}
		}
		return r.ProteinOutputs, r.ProteinLosses
	case GroupPair:
		if r.PairOutputs == nil {
			r.PairOutputs, r.PairLosses = Outputs{}, LossSet{}
		}
		return r.PairOutputs, r.PairLosses
	default:
		if r.Outputs == nil {
			r.Outputs, r.Losses = Outputs{}, LossSet{}
		}
		return r.Outputs, r.Losses
	}
}

func requested(spec HeadSpec, opts ForwardOptions) bool {
	var keys map[string][]string
	switch spec.Group {
	case GroupProtein:
		keys = opts.ProteinOutputKeys
	case GroupPair:
		keys = opts.PairOutputKeys
	default:
		keys = opts.OutputKeys
	}
	for _, task := range keys[spec.Level] {
		if task == spec.Task {
			return true
		}
	}
	return false
}

func (h linearHead) predict(features Tensor, inputSize int) Tensor {
	n := features.Rows()
	size := h.spec.LabelSize
	out := Tensor{Shape: []int{n, size}, Data: make([]float64, n*size)}
	for i := 0; i < n; i++ {
		input := features.Row(i)
		logits := make([]float64, size)
		for c := 0; c < size; c++ {
			sum := h.bias[c]
			wStart := c * inputSize
			for j := 0; j < inputSize; j++ {
				sum += h.weights[wStart+j] * input[j]
			}
			logits[c] = sum
		}
		switch h.spec.OutputMode {
		case ModeMultiClass:
			logits = softmax(logits)
		case ModeBinary, ModeMultiLabel:
			for c := range logits {
				logits[c] = sigmoid(logits[c])
			}
		}
		copy(out.Data[i*size:], logits)
	}
	return out
}

func (h linearHead) loss(preds, labels Tensor) (float64, error) {
	n := preds.Rows()
	if labels.Rows() != n {
		return 0, fmt.Errorf("model: %s/%s labels have %d rows, predictions %d",
			h.spec.Level, h.spec.Task, labels.Rows(), n)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		p := preds.Row(i)
		y := labels.Row(i)
		switch h.spec.OutputMode {
		case ModeMultiClass:
			label := int(y[0])
			if label < 0 || label >= len(p) {
				return 0, fmt.Errorf("model: class %d out of range for %s", label, h.spec.Task)
			}
			total += -math.Log(math.Max(p[label], 1e-9))
		case ModeBinary, ModeMultiLabel:
			if len(y) != len(p) {
				return 0, fmt.Errorf("model: %s expects %d labels, got %d", h.spec.Task, len(p), len(y))
			}
			for c := range p {
				q := math.Min(math.Max(p[c], 1e-9), 1-1e-9)
				total += -(y[c]*math.Log(q) + (1-y[c])*math.Log(1-q)) / float64(len(p))
			}
		default:
			for c := range p {
				d := p[c] - y[c%len(y)]
				total += d * d / float64(len(p))
			}
		}
	}
	return total / float64(n), nil
}

func put(o Outputs, level, task string, t Tensor) {
	if o[level] == nil {
		o[level] = map[string]Tensor{}
	}
	o[level][task] = t
}

func putLoss(l LossSet, level, task string, v float64) {
	if l[level] == nil {
		l[level] = map[string]float64{}
	}
	l[level][task] = v
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	out := make([]float64, len(logits))
	for i, v := range logits {
		exp := math.Exp(v - maxLogit)
		out[i] = exp
		sum += exp
	}
	inv := 1.0 / sum
	for i := range out {
		out[i] *= inv
	}
	return out
}

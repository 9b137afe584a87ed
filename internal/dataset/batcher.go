package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"multitask-eval/internal/model"
)

// ParseRowFunc turns one shard record into the column values of a row.
type ParseRowFunc func(rec Record) ([]string, error)

// BatchFunc assembles parsed rows into a batch carrying labels for the
// active tasks only.
type BatchFunc func(rows [][]string, tasks model.Tasks) (model.Batch, error)

// ErrMalformedRow is returned for rows DenseBatcher cannot decode.
var ErrMalformedRow = errors.New("dataset: malformed row")

// PassthroughRow is the default ParseRowFunc.
func PassthroughRow(rec Record) ([]string, error) {
	return rec.Fields, nil
}

// DenseBatcher is the default BatchFunc. Column 0 is an id and is ignored,
// column 1 holds space separated features, and every following column holds
// the label of one task in model.Tasks.Heads order:
//
//	binary, regression: label_size space separated values
//	multi_class:        the class index
//	multi_label:        space separated indices of the positive labels
func DenseBatcher(rows [][]string, tasks model.Tasks) (model.Batch, error) {
	if len(rows) == 0 {
		return model.Batch{}, fmt.Errorf("%w: empty batch", ErrMalformedRow)
	}
	heads := tasks.Heads()
	n := len(rows)

	var (
		width    = -1
		features []float64
	)
	labels := make([][]float64, len(heads))
	for i, row := range rows {
		if len(row) < 2+len(heads) {
			return model.Batch{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrMalformedRow, i, len(row), 2+len(heads))
		}
		vec, err := parseFloats(row[1])
		if err != nil {
			return model.Batch{}, fmt.Errorf("%w: row %d features: %v", ErrMalformedRow, i, err)
		}
		if width == -1 {
			width = len(vec)
			features = make([]float64, 0, n*width)
		}
		if len(vec) != width {
			return model.Batch{}, fmt.Errorf("%w: row %d has %d features, want %d", ErrMalformedRow, i, len(vec), width)
		}
		features = append(features, vec...)

		for h, head := range heads {
			encoded, err := encodeLabel(head, row[2+h])
			if err != nil {
				return model.Batch{}, fmt.Errorf("%w: row %d %s: %v", ErrMalformedRow, i, head.Task, err)
			}
			labels[h] = append(labels[h], encoded...)
		}
	}

	batch := model.Batch{
		Fields: map[string]model.Tensor{
			model.FeaturesField: {Shape: []int{n, width}, Data: features},
		},
	}
	for h, head := range heads {
		if batch.Labels == nil {
			batch.Labels = map[model.Group]model.LabelSet{}
		}
		set := batch.Labels[head.Group]
		if set == nil {
			set = model.LabelSet{}
			batch.Labels[head.Group] = set
		}
		if set[head.Level] == nil {
			set[head.Level] = map[string]model.Tensor{}
		}
		set[head.Level][head.Task] = model.Tensor{
			Shape: []int{n, len(labels[h]) / n},
			Data:  labels[h],
		}
	}
	return batch, nil
}

func encodeLabel(head model.HeadSpec, cell string) ([]float64, error) {
	switch head.OutputMode {
	case model.ModeMultiClass:
		idx, err := strconv.Atoi(strings.TrimSpace(cell))
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= head.LabelSize {
			return nil, fmt.Errorf("class %d out of range [0,%d)", idx, head.LabelSize)
		}
		return []float64{float64(idx)}, nil
	case model.ModeMultiLabel:
		hot := make([]float64, head.LabelSize)
		for _, tok := range strings.Fields(cell) {
			idx, err := strconv.Atoi(tok)
			if err != nil {
				return nil, err
			}
			if idx < 0 || idx >= head.LabelSize {
				return nil, fmt.Errorf("label %d out of range [0,%d)", idx, head.LabelSize)
			}
			hot[idx] = 1
		}
		return hot, nil
	default:
		vals, err := parseFloats(cell)
		if err != nil {
			return nil, err
		}
		if len(vals) != head.LabelSize {
			return nil, fmt.Errorf("got %d values, want %d", len(vals), head.LabelSize)
		}
		return vals, nil
	}
}

func parseFloats(s string) ([]float64, error) {
	toks := strings.Fields(s)
	out := make([]float64, 0, len(toks))
	for _, tok := range toks {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

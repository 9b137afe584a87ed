// Package device moves batches onto the compute device used by the model.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"multitask-eval/internal/model"
)

var (
	// ErrEmptyBatch is returned for a batch without input fields.
	ErrEmptyBatch = errors.New("device: batch has no fields")

	// ErrInconsistentBatch is returned when fields disagree on the example count.
	ErrInconsistentBatch = errors.New("device: inconsistent example count")

	// ErrUnknownDevice is returned by Parse for unsupported device names.
	ErrUnknownDevice = errors.New("device: unknown device")
)

// Placer transfers a batch to a device and reports its example count.
type Placer interface {
	Place(ctx context.Context, batch model.Batch) (model.Batch, int, error)
}

// CPU keeps tensors in host memory. Place returns a deep copy so the caller's
// batch is never mutated, even on failure.
type CPU struct{}

// Place implements Placer.
func (CPU) Place(ctx context.Context, batch model.Batch) (model.Batch, int, error) {
	if err := ctx.Err(); err != nil {
		return model.Batch{}, 0, err
	}
	count, err := ExampleCount(batch)
	if err != nil {
		return model.Batch{}, 0, err
	}

	out := model.Batch{Fields: make(map[string]model.Tensor, len(batch.Fields))}
	for name, t := range batch.Fields {
		out.Fields[name] = t.Clone()
	}
	if batch.Labels != nil {
		out.Labels = make(map[model.Group]model.LabelSet, len(batch.Labels))
		for g, set := range batch.Labels {
			copied := make(model.LabelSet, len(set))
			for level, tasks := range set {
				copied[level] = make(map[string]model.Tensor, len(tasks))
				for task, t := range tasks {
					copied[level][task] = t.Clone()
				}
			}
			out.Labels[g] = copied
		}
	}
	return out, count, nil
}

// ExampleCount returns the shared leading dimension of the batch's fields.
func ExampleCount(batch model.Batch) (int, error) {
	if len(batch.Fields) == 0 {
		return 0, ErrEmptyBatch
	}
	count := -1
	for name, t := range batch.Fields {
		rows := t.Rows()
		if count == -1 {
			count = rows
			continue
		}
		if rows != count {
			return 0, fmt.Errorf("%w: field %s has %d rows, expected %d", ErrInconsistentBatch, name, rows, count)
		}
	}
	return count, nil
}

// Parse resolves a device name such as "cpu".
func Parse(name string) (Placer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu":
		return CPU{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
}

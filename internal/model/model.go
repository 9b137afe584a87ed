package model

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Group identifies one prediction head family of the model.
type Group string

const (
	GroupGene    Group = "gene"
	GroupProtein Group = "protein"
	GroupPair    Group = "pair"
)

// Groups lists task groups in canonical gene, protein, pair order.
var Groups = []Group{GroupGene, GroupProtein, GroupPair}

// Tensor is a dense row-major array whose leading dimension indexes examples.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Rows returns the leading dimension, or 0 for a scalar.
func (t Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Row returns the values belonging to example i.
func (t Tensor) Row(i int) []float64 {
	n := t.Rows()
	if n == 0 {
		return nil
	}
	width := len(t.Data) / n
	return t.Data[i*width : (i+1)*width]
}

// Clone returns a deep copy of t.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

// LabelSet maps task level to task name to label tensor.
type LabelSet map[string]map[string]Tensor

// LossSet maps task level to task name to the scalar loss of one step.
type LossSet map[string]map[string]float64

// Outputs maps task level to task name to the predictions of one step.
type Outputs map[string]map[string]Tensor

// Batch is one minibatch of example-aligned input fields and labels.
type Batch struct {
	Fields map[string]Tensor
	Labels map[Group]LabelSet
}

// String renders the whole batch on a single line.
func (b Batch) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, name := range sortedKeys(b.Fields) {
		if i > 0 {
			sb.WriteString(", ")
		}
		t := b.Fields[name]
		fmt.Fprintf(&sb, "%s: %v%v", name, t.Shape, t.Data)
	}
	for _, g := range Groups {
		set, ok := b.Labels[g]
		if !ok {
			continue
		}
		for _, level := range sortedKeys(set) {
			for _, task := range sortedKeys(set[level]) {
				t := set[level][task]
				fmt.Fprintf(&sb, ", labels.%s.%s.%s: %v%v", g, level, task, t.Shape, t.Data)
			}
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// Dump writes one block per field: name, shape and the values row by row.
func (b Batch) Dump(w io.Writer) error {
	for _, name := range sortedKeys(b.Fields) {
		if err := dumpTensor(w, name, b.Fields[name]); err != nil {
			return err
		}
	}
	for _, g := range Groups {
		set := b.Labels[g]
		for _, level := range sortedKeys(set) {
			for _, task := range sortedKeys(set[level]) {
				name := fmt.Sprintf("labels.%s.%s.%s", g, level, task)
				if err := dumpTensor(w, name, set[level][task]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func dumpTensor(w io.Writer, name string, t Tensor) error {
	if _, err := fmt.Fprintf(w, "%s:\nshape: %v\n", name, t.Shape); err != nil {
		return err
	}
	for i := 0; i < t.Rows(); i++ {
		if _, err := fmt.Fprintf(w, "%d: %v\n", i, t.Row(i)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "------")
	return err
}

// Result is the value returned by one forward pass. It is either a
// StructuredResult or a PairResult.
type Result interface {
	isResult()
}

// StructuredResult carries up to three loss/output slots, one per task group.
// Empty slots mean the group was not produced for this batch.
type StructuredResult struct {
	Losses        LossSet
	ProteinLosses LossSet
	PairLosses    LossSet

	Outputs        Outputs
	ProteinOutputs Outputs
	PairOutputs    Outputs
}

// PairResult is the plain (losses, outputs) shape of simpler models.
type PairResult struct {
	Losses  []LossSet
	Outputs []Outputs
}

func (StructuredResult) isResult() {}
func (PairResult) isResult()       {}

// ForwardOptions are the control flags passed alongside the batch.
type ForwardOptions struct {
	OutputKeys         map[string][]string
	ProteinOutputKeys  map[string][]string
	PairOutputKeys     map[string][]string
	OutputAttentions   bool
	OutputHiddenStates bool
}

// Model is the evaluated network. Forward must not retain the batch.
type Model interface {
	// Eval switches off training-only behaviour such as dropout.
	Eval()
	Forward(ctx context.Context, batch Batch, opts ForwardOptions) (Result, error)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package model

import (
	"errors"
	"fmt"
)

// ErrUnexpectedResult reports a forward result of a shape the evaluator does
// not understand. It indicates a model/config mismatch, not bad data.
var ErrUnexpectedResult = errors.New("model: unexpected forward result")

// Adapt flattens a forward result into aligned loss and output lists.
//
// For a StructuredResult each non-empty slot contributes one entry, in gene,
// protein, pair order, and groups tags the output entries. A PairResult passes
// through unchanged with nil groups.
func Adapt(r Result) ([]LossSet, []Outputs, []Group, error) {
	switch res := r.(type) {
	case StructuredResult:
		return adaptStructured(res)
	case *StructuredResult:
		if res == nil {
			return nil, nil, nil, fmt.Errorf("%w: nil structured result", ErrUnexpectedResult)
		}
		return adaptStructured(*res)
	case PairResult:
		return res.Losses, res.Outputs, nil, nil
	case *PairResult:
		if res == nil {
			return nil, nil, nil, fmt.Errorf("%w: nil pair result", ErrUnexpectedResult)
		}
		return res.Losses, res.Outputs, nil, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %T", ErrUnexpectedResult, r)
	}
}

func adaptStructured(res StructuredResult) ([]LossSet, []Outputs, []Group, error) {
	var (
		losses  []LossSet
		outputs []Outputs
		groups  []Group
	)
	slots := []struct {
		group  Group
		loss   LossSet
		output Outputs
	}{
		{GroupGene, res.Losses, res.Outputs},
		{GroupProtein, res.ProteinLosses, res.ProteinOutputs},
		{GroupPair, res.PairLosses, res.PairOutputs},
	}
	for _, s := range slots {
		if len(s.loss) > 0 {
			losses = append(losses, s.loss)
		}
		if len(s.output) > 0 {
			outputs = append(outputs, s.output)
			groups = append(groups, s.group)
		}
	}
	return losses, outputs, groups, nil
}

package metrics

import (
	"fmt"
	"io"
)

// Progress renders a single status line that is rewritten in place.
type Progress struct {
	w       io.Writer
	written bool
}

// NewProgress returns a Progress writing to w. A nil w discards output.
func NewProgress(w io.Writer) *Progress {
	if w == nil {
		w = io.Discard
	}
	return &Progress{w: w}
}

// Update overwrites the status line.
func (p *Progress) Update(step, samples int, curLoss, avgLoss float64) {
	fmt.Fprintf(p.w, "\rEval, Batch: %06d, Sample Num: %d, Cur Loss: %0.6f, Avg Loss: %0.6f",
		step, samples, curLoss, avgLoss)
	p.written = true
}

// Finish terminates the status line if anything was written.
func (p *Progress) Finish() {
	if p.written {
		fmt.Fprintln(p.w)
	}
}

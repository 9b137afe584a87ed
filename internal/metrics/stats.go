package metrics

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Window accumulates throughput stats across multiple evaluation steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	losses  []float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(samples int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += samples
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.losses = append(w.losses, loss)
}

// Steps returns the number of measurements since the last snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.SamplesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.LastLoss = w.losses[len(w.losses)-1]
		snap.MeanLoss = stat.Mean(w.losses, nil)
	}

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.losses = w.losses[:0]
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	SamplesPerSec float64
	AvgDataMS     float64
	AvgComputeMS  float64
	LastLoss      float64
	MeanLoss      float64
}

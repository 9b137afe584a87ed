package metrics

import (
	"multitask-eval/internal/model"
)

const threshold = 0.5

// Collector gathers predictions and labels across steps and scores them once
// at the end of the run. Only tasks present in both outputs and labels are
// collected.
type Collector struct {
	heads map[headKey]model.HeadSpec
	names map[headKey]string
	preds map[headKey][]float64
	truth map[headKey][]float64
	order []headKey

	// skipped counts steps whose tensors did not match the head's width.
	skipped map[headKey]int
}

type headKey struct {
	group model.Group
	level string
	task  string
}

// NewCollector prepares a collector for the configured tasks.
func NewCollector(tasks model.Tasks) *Collector {
	c := &Collector{
		heads:   map[headKey]model.HeadSpec{},
		names:   map[headKey]string{},
		preds:   map[headKey][]float64{},
		truth:   map[headKey][]float64{},
		skipped: map[headKey]int{},
	}
	heads := tasks.Heads()
	uses := map[string]int{}
	for _, h := range heads {
		uses[h.Task]++
	}
	for _, h := range heads {
		k := headKey{group: h.Group, level: h.Level, task: h.Task}
		c.heads[k] = h
		c.names[k] = h.Task
		if uses[h.Task] > 1 {
			c.names[k] = string(h.Group) + "_" + h.Level + "_" + h.Task
		}
		c.order = append(c.order, k)
	}
	return c
}

// Observe records one step. groups tags outputs; when it is nil the outputs
// are matched positionally against the configured groups.
func (c *Collector) Observe(groups []model.Group, outputs []model.Outputs, labels map[model.Group]model.LabelSet) {
	if groups == nil {
		groups = c.activeGroups()
	}
	for i, out := range outputs {
		if i >= len(groups) {
			return
		}
		g := groups[i]
		for level, tasks := range out {
			for task, pred := range tasks {
				k := headKey{group: g, level: level, task: task}
				h, ok := c.heads[k]
				if !ok {
					continue
				}
				truth, ok := labels[g][level][task]
				if !ok {
					continue
				}
				rows := pred.Rows()
				if truth.Rows() != rows ||
					len(pred.Data) != rows*h.LabelSize ||
					len(truth.Data) != rows*labelWidth(h) {
					c.skipped[k]++
					continue
				}
				c.preds[k] = append(c.preds[k], pred.Data...)
				c.truth[k] = append(c.truth[k], truth.Data...)
			}
		}
	}
}

// Results scores every collected task, keyed "<task>_<metric>". A task name
// configured more than once is qualified as "<group>_<level>_<task>".
func (c *Collector) Results() map[string]float64 {
	out := map[string]float64{}
	for _, k := range c.order {
		preds, truth := c.preds[k], c.truth[k]
		if len(truth) == 0 {
			continue
		}
		h := c.heads[k]
		var scores map[string]float64
		switch h.OutputMode {
		case model.ModeMultiClass:
			scores = MultiClass(preds, h.LabelSize, truth)
		case model.ModeMultiLabel:
			scores = MultiLabel(preds, h.LabelSize, truth, threshold)
		case model.ModeBinary:
			scores = Binary(preds, truth, threshold)
		default:
			scores = Regression(preds, truth)
		}
		for name, v := range scores {
			out[c.names[k]+"_"+name] = v
		}
	}
	return out
}

// Skipped returns, per score name prefix, how many steps were left out
// because predictions or labels had the wrong shape for the head.
func (c *Collector) Skipped() map[string]int {
	out := map[string]int{}
	for k, n := range c.skipped {
		out[c.names[k]] = n
	}
	return out
}

func labelWidth(h model.HeadSpec) int {
	if h.OutputMode == model.ModeMultiClass {
		return 1
	}
	return h.LabelSize
}

func (c *Collector) activeGroups() []model.Group {
	var groups []model.Group
	seen := map[model.Group]bool{}
	for _, k := range c.order {
		if !seen[k.group] {
			seen[k.group] = true
			groups = append(groups, k.group)
		}
	}
	return groups
}

package model

import "fmt"

// GroupTasks configures the tasks of one group, keyed by level then task.
type GroupTasks struct {
	LabelSize  map[string]map[string]int    `yaml:"label_size"`
	OutputMode map[string]map[string]string `yaml:"output_mode"`
}

// Tasks holds the configured groups. A missing group is inactive for the run.
type Tasks map[Group]*GroupTasks

// Active reports whether g is configured with at least one task.
func (t Tasks) Active(g Group) bool {
	gt, ok := t[g]
	return ok && gt != nil && len(gt.LabelSize) > 0
}

// OutputKeys returns level -> sorted task names for group g, or nil when
// the group is inactive.
func (t Tasks) OutputKeys(g Group) map[string][]string {
	if !t.Active(g) {
		return nil
	}
	keys := make(map[string][]string, len(t[g].LabelSize))
	for level, tasks := range t[g].LabelSize {
		keys[level] = sortedKeys(tasks)
	}
	return keys
}

// Heads lists every configured task in canonical order: gene, protein, pair,
// then levels and tasks sorted by name.
func (t Tasks) Heads() []HeadSpec {
	var heads []HeadSpec
	for _, g := range Groups {
		if !t.Active(g) {
			continue
		}
		gt := t[g]
		for _, level := range sortedKeys(gt.LabelSize) {
			for _, task := range sortedKeys(gt.LabelSize[level]) {
				heads = append(heads, HeadSpec{
					Group:      g,
					Level:      level,
					Task:       task,
					LabelSize:  gt.LabelSize[level][task],
					OutputMode: gt.OutputMode[level][task],
				})
			}
		}
	}
	return heads
}

// Validate checks that every task has a positive label size and a known output mode.
func (t Tasks) Validate() error {
	for _, h := range t.Heads() {
		if h.LabelSize <= 0 {
			return fmt.Errorf("%s %s/%s: label size must be > 0 (got %d)", h.Group, h.Level, h.Task, h.LabelSize)
		}
		switch h.OutputMode {
		case ModeBinary, ModeMultiClass, ModeMultiLabel, ModeRegression:
		default:
			return fmt.Errorf("%s %s/%s: unknown output mode %q", h.Group, h.Level, h.Task, h.OutputMode)
		}
	}
	return nil
}

// ForLevel keeps only tasks at the given level. An empty level or "all"
// returns t unchanged.
func (t Tasks) ForLevel(level string) Tasks {
	if level == "" || level == "all" {
		return t
	}
	out := Tasks{}
	for g, gt := range t {
		if gt == nil {
			continue
		}
		size, ok := gt.LabelSize[level]
		if !ok {
			continue
		}
		out[g] = &GroupTasks{
			LabelSize:  map[string]map[string]int{level: size},
			OutputMode: map[string]map[string]string{level: gt.OutputMode[level]},
		}
	}
	return out
}

// Has reports whether level/task is configured in group g.
func (t Tasks) Has(g Group, level, task string) bool {
	if !t.Active(g) {
		return false
	}
	_, ok := t[g].LabelSize[level][task]
	return ok
}

// FilterLabels returns the subset of labels whose task is configured in t.
func (t Tasks) FilterLabels(labels map[Group]LabelSet) map[Group]LabelSet {
	var out map[Group]LabelSet
	for g, set := range labels {
		for level, tasks := range set {
			for task, tensor := range tasks {
				if !t.Has(g, level, task) {
					continue
				}
				if out == nil {
					out = map[Group]LabelSet{}
				}
				if out[g] == nil {
					out[g] = LabelSet{}
				}
				if out[g][level] == nil {
					out[g][level] = map[string]Tensor{}
				}
				out[g][level][task] = tensor
			}
		}
	}
	return out
}

package metrics

import (
	"sort"

	"multitask-eval/internal/model"
)

// Key identifies one task loss.
type Key struct {
	Level string
	Task  string
}

// Accumulator is a running sum of per-step losses.
type Accumulator struct {
	Sum   float64
	Count int
}

// Totals maps every task observed so far to its accumulator. Keys appear the
// first time a task reports a loss.
type Totals map[Key]Accumulator

// LossDetail is a level -> task -> loss view.
type LossDetail map[string]map[string]float64

// Keys returns the keys of t sorted by level then task.
func (t Totals) Keys() []Key {
	keys := make([]Key, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Level != keys[j].Level {
			return keys[i].Level < keys[j].Level
		}
		return keys[i].Task < keys[j].Task
	})
	return keys
}

// Merge returns a new Totals with the losses of one step added. Neither
// argument is modified.
func Merge(old Totals, step []model.LossSet) Totals {
	next := make(Totals, len(old))
	for k, acc := range old {
		next[k] = acc
	}
	for _, set := range step {
		for level, tasks := range set {
			for task, v := range tasks {
				k := Key{Level: level, Task: task}
				acc := next[k]
				acc.Sum += v
				acc.Count++
				next[k] = acc
			}
		}
	}
	return next
}

// Accumulate folds one step into the running totals. It returns the step's
// own per-task view, the updated totals, the updated grand total and the
// step's loss, which is the sum of every task loss reported by the step.
// Empty losses leave everything unchanged and yield a zero step loss.
func Accumulate(losses []model.LossSet, totals Totals, totalLoss float64) (LossDetail, Totals, float64, float64) {
	current := LossDetail{}
	curLoss := 0.0
	for _, set := range losses {
		for level, tasks := range set {
			if current[level] == nil {
				current[level] = map[string]float64{}
			}
			for task, v := range tasks {
				current[level][task] += v
				curLoss += v
			}
		}
	}
	if totals == nil {
		totals = Totals{}
	}
	return current, Merge(totals, losses), totalLoss + curLoss, curLoss
}

// Finalize divides every accumulator by nbSteps. The mean is over steps, not
// examples: a short final batch weighs as much as a full one.
//
// allResult holds "<level>_<task>_loss" per task, "loss" for the grand
// average, and every entry of extra. With nbSteps == 0 every average is 0.
func Finalize(totals Totals, nbSteps int, extra map[string]float64) (map[string]float64, float64, LossDetail) {
	allResult := make(map[string]float64, len(totals)+len(extra)+1)
	detail := LossDetail{}
	grand := 0.0
	for _, k := range totals.Keys() {
		avg := 0.0
		if nbSteps > 0 {
			avg = totals[k].Sum / float64(nbSteps)
		}
		if detail[k.Level] == nil {
			detail[k.Level] = map[string]float64{}
		}
		detail[k.Level][k.Task] = avg
		allResult[k.Level+"_"+k.Task+"_loss"] = avg
		grand += avg
	}
	for name, v := range extra {
		allResult[name] = v
	}
	allResult["loss"] = grand
	return allResult, grand, detail
}

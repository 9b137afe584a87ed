package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Binary scores per-element probabilities against 0/1 labels at threshold.
// Elements beyond the shorter of probs and labels are ignored.
func Binary(probs, labels []float64, threshold float64) map[string]float64 {
	var tp, fp, fn, tn float64
	n := min(len(probs), len(labels))
	for i, p := range probs[:n] {
		pred := p >= threshold
		pos := labels[i] >= 0.5
		switch {
		case pred && pos:
			tp++
		case pred && !pos:
			fp++
		case !pred && pos:
			fn++
		default:
			tn++
		}
	}
	prec, rec, f1 := prf(tp, fp, fn)
	return map[string]float64{
		"acc":       ratio(tp+tn, tp+tn+fp+fn),
		"precision": prec,
		"recall":    rec,
		"f1":        f1,
	}
}

// MultiClass scores rows of class probabilities (width k) against class indices.
// f1 is the macro average over classes that occur in labels or predictions.
// Only rows complete in both probs and labels are scored.
func MultiClass(probs []float64, k int, labels []float64) map[string]float64 {
	if k <= 0 {
		return map[string]float64{"acc": 0, "f1": 0}
	}
	n := min(len(labels), len(probs)/k)
	tp := make([]float64, k)
	fp := make([]float64, k)
	fn := make([]float64, k)
	correct := 0.0
	for i := 0; i < n; i++ {
		pred := floats.MaxIdx(probs[i*k : (i+1)*k])
		truth := int(labels[i])
		if pred == truth {
			correct++
			tp[pred]++
			continue
		}
		fp[pred]++
		if truth >= 0 && truth < k {
			fn[truth]++
		}
	}
	var f1s []float64
	for c := 0; c < k; c++ {
		if tp[c]+fp[c]+fn[c] == 0 {
			continue
		}
		_, _, f1 := prf(tp[c], fp[c], fn[c])
		f1s = append(f1s, f1)
	}
	macro := 0.0
	if len(f1s) > 0 {
		macro = stat.Mean(f1s, nil)
	}
	return map[string]float64{
		"acc": ratio(correct, float64(n)),
		"f1":  macro,
	}
}

// MultiLabel scores rows of per-label probabilities against multi-hot labels.
// acc is the exact-match ratio; precision, recall and f1 are micro averages.
func MultiLabel(probs []float64, k int, labels []float64, threshold float64) map[string]float64 {
	n := 0
	if k > 0 {
		n = min(len(labels), len(probs)) / k
	}
	var tp, fp, fn, exact float64
	for i := 0; i < n; i++ {
		match := true
		for c := 0; c < k; c++ {
			pred := probs[i*k+c] >= threshold
			pos := labels[i*k+c] >= 0.5
			switch {
			case pred && pos:
				tp++
			case pred && !pos:
				fp++
				match = false
			case !pred && pos:
				fn++
				match = false
			}
		}
		if match {
			exact++
		}
	}
	prec, rec, f1 := prf(tp, fp, fn)
	return map[string]float64{
		"acc":       ratio(exact, float64(n)),
		"precision": prec,
		"recall":    rec,
		"f1":        f1,
	}
}

// Regression reports mse, mae and r2 of preds against values.
func Regression(preds, values []float64) map[string]float64 {
	n := min(len(preds), len(values))
	if n == 0 {
		return map[string]float64{"mse": 0, "mae": 0, "r2": 0}
	}
	preds, values = preds[:n], values[:n]
	diff := make([]float64, len(values))
	floats.SubTo(diff, preds, values)
	mse := floats.Dot(diff, diff) / float64(len(diff))
	mae := floats.Norm(diff, 1) / float64(len(diff))
	r2 := stat.RSquaredFrom(preds, values, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}
	return map[string]float64{"mse": mse, "mae": mae, "r2": r2}
}

func prf(tp, fp, fn float64) (precision, recall, f1 float64) {
	precision = ratio(tp, tp+fp)
	recall = ratio(tp, tp+fn)
	f1 = ratio(2*precision*recall, precision+recall)
	return precision, recall, f1
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

package evaluator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"multitask-eval/internal/metrics"
)

// ReportFile is the name of the summary written under <output_dir>/<prefix>.
const ReportFile = "dev_metrics.txt"

// Report is the immutable summary of one evaluation run.
//
// Loss and LossDetail are means over successful steps, not over examples.
// AttemptedSamples counts every transferred batch, including the ones that
// failed and were excluded from the averages.
type Report struct {
	RunID      string
	Prefix     string
	AllResult  map[string]float64
	Loss       float64
	LossDetail metrics.LossDetail

	Steps            int
	FailedSteps      int
	AttemptedSamples int

	Path string
}

// Format writes the report in the dev_metrics.txt layout. The detail line
// is JSON shaped with sorted keys; non-finite losses render as NaN, +Inf or
// -Inf so that a diverged task never prevents the report from being written.
func (r *Report) Format(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "***** Dev results %s *****\n", r.Prefix); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Dev average loss = %0.6f\n", r.Loss); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Dev detail loss = %s\n", formatDetail(r.LossDetail)); err != nil {
		return err
	}
	keys := make([]string, 0, len(r.AllResult))
	for k := range r.AllResult {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s = %v\n", k, r.AllResult[k]); err != nil {
			return err
		}
	}
	return nil
}

func formatDetail(d metrics.LossDetail) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, level := range sortedNames(d) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(level))
		b.WriteString(":{")
		for j, task := range sortedNames(d[level]) {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(task))
			b.WriteByte(':')
			b.WriteString(strconv.FormatFloat(d[level][task], 'g', -1, 64))
		}
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return b.String()
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WriteReport atomically replaces dir/dev_metrics.txt with r and returns its path.
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ReportFile+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return "", fmt.Errorf("chmod report: %w", err)
	}

	if err := r.Format(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	path := filepath.Join(dir, ReportFile)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("commit report: %w", err)
	}
	return path, nil
}

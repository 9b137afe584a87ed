package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressOverwritesLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf)
	p.Update(1, 4, 0.9, 0.9)
	p.Update(2, 8, 0.7, 0.8)
	p.Finish()

	assert.Equal(t,
		"\rEval, Batch: 000001, Sample Num: 4, Cur Loss: 0.900000, Avg Loss: 0.900000"+
			"\rEval, Batch: 000002, Sample Num: 8, Cur Loss: 0.700000, Avg Loss: 0.800000\n",
		buf.String())
}

func TestProgressFinishWithoutUpdates(t *testing.T) {
	var buf bytes.Buffer
	NewProgress(&buf).Finish()
	assert.Empty(t, buf.String())
	NewProgress(nil).Update(1, 1, 0, 0)
}

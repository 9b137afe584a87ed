package evaluator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("multitask-eval/evaluator")

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eval_batches_total",
		Help: "Evaluated batches by result",
	}, []string{"result"})

	samplesAttempted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_samples_attempted_total",
		Help: "Examples transferred to the device, including failed batches",
	})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eval_step_duration_seconds",
		Help:    "Forward pass duration of successful batches",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	averageLoss = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eval_average_loss",
		Help: "Average loss of the last finished evaluation",
	}, []string{"prefix"})

	diagnosticErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eval_diagnostic_write_errors_total",
		Help: "Failures while writing batch failure diagnostics",
	})
)

package evaluate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeTimeout = "timeout"
)

var (
	// evaluationTotal counts Score calls.
	// Labels: strategy, outcome (ok, failed, timeout)
	evaluationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genens",
		Name:      "evaluation_total",
		Help:      "Total workflow evaluations by outcome",
	}, []string{"strategy", "outcome"})

	// evaluationDuration measures completed evaluations.
	// Labels: strategy
	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "genens",
		Name:      "evaluation_duration_seconds",
		Help:      "Wall-clock duration of completed workflow evaluations",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"strategy"})
)

package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "genens",
		Name:      "generations_total",
		Help:      "Total evaluated generations across runs",
	})

	// bestScore is the best valid score of the latest generation.
	bestScore = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "genens",
		Name:      "generation_best_score",
		Help:      "Best valid score of the most recent generation",
	})

	// individualsScored counts individuals sent to the evaluator.
	// Labels: outcome (valid, failed)
	individualsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "genens",
		Name:      "individuals_scored_total",
		Help:      "Individuals scored by outcome",
	}, []string{"outcome"})
)

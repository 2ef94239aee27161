package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// SeriesSummary describes a best-score series. Std is the population
// standard deviation.
type SeriesSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Max  float64 `json:"max"`
	Min  float64 `json:"min"`
	// Gain is the last value minus the first.
	Gain float64 `json:"gain"`
}

func SummarizeSeries(values []float64) SeriesSummary {
	if len(values) == 0 {
		return SeriesSummary{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return SeriesSummary{
		Mean: mean,
		Std:  std,
		Max:  floats.Max(values),
		Min:  floats.Min(values),
		Gain: values[len(values)-1] - values[0],
	}
}

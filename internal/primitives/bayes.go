package primitives

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"genens/internal/workflow"
)

// varSmoothing is added to every per-class variance as a fraction of the
// largest feature variance.
const varSmoothing = 1e-9

// GaussianNB models every feature as an independent per-class normal.
type GaussianNB struct {
	classes  []float64
	logPrior []float64
	mean     [][]float64
	variance [][]float64
}

func (g *GaussianNB) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	d := len(x[0])

	var maxVar float64
	for j := 0; j < d; j++ {
		maxVar = math.Max(maxVar, stat.PopVariance(column(x, j), nil))
	}
	eps := varSmoothing * maxVar
	if eps == 0 {
		eps = varSmoothing
	}

	g.classes = classesOf(y)
	groups := make(map[float64][][]float64, len(g.classes))
	for i, row := range x {
		groups[y[i]] = append(groups[y[i]], row)
	}

	g.logPrior = make([]float64, len(g.classes))
	g.mean = make([][]float64, len(g.classes))
	g.variance = make([][]float64, len(g.classes))
	for ci, class := range g.classes {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := groups[class]
		g.logPrior[ci] = math.Log(float64(len(rows)) / float64(len(x)))
		g.mean[ci] = make([]float64, d)
		g.variance[ci] = make([]float64, d)
		for j := 0; j < d; j++ {
			m, v := stat.PopMeanVariance(column(rows, j), nil)
			g.mean[ci][j] = m
			g.variance[ci][j] = v + eps
		}
	}
	return nil
}

func (g *GaussianNB) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if g.classes == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(g.mean[0])); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	scores := make([]float64, len(g.classes))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for ci := range g.classes {
			ll := g.logPrior[ci]
			for j, v := range row {
				diff := v - g.mean[ci][j]
				ll -= 0.5 * (math.Log(2*math.Pi*g.variance[ci][j]) + diff*diff/g.variance[ci][j])
			}
			scores[ci] = ll
		}
		out[i] = g.classes[floats.MaxIdx(scores)]
	}
	return out, nil
}

func (g *GaussianNB) Clone() workflow.Estimator { return &GaussianNB{} }

package primitives

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"genens/internal/workflow"
)

// KNeighbors is a k-nearest-neighbour classifier over Euclidean distance.
// Weights is "uniform" or "distance".
type KNeighbors struct {
	K       int
	Weights string

	x [][]float64
	y []float64
}

func (k *KNeighbors) Fit(_ context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if k.K < 1 {
		return fmt.Errorf("%w: n_neighbors=%d", ErrInput, k.K)
	}
	if k.Weights != "" && k.Weights != "uniform" && k.Weights != "distance" {
		return fmt.Errorf("%w: unknown weights %q", ErrInput, k.Weights)
	}
	k.x, k.y = x, y
	return nil
}

func (k *KNeighbors) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if k.x == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(k.x[0])); err != nil {
		return nil, err
	}
	n := k.K
	if n > len(k.x) {
		n = len(k.x)
	}

	type neighbour struct {
		dist  float64
		label float64
	}
	all := make([]neighbour, len(k.x))
	out := make([]float64, len(x))
	for i, row := range x {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j, train := range k.x {
			all[j] = neighbour{dist: floats.Distance(row, train, 2), label: k.y[j]}
		}
		sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })

		votes := map[float64]float64{}
		if k.Weights == "distance" && all[0].dist == 0 {
			// exact matches dominate inverse-distance voting
			for _, nb := range all[:n] {
				if nb.dist == 0 {
					votes[nb.label]++
				}
			}
		} else {
			for _, nb := range all[:n] {
				w := 1.0
				if k.Weights == "distance" {
					w = 1 / nb.dist
				}
				votes[nb.label] += w
			}
		}
		out[i] = majority(votes)
	}
	return out, nil
}

func (k *KNeighbors) Clone() workflow.Estimator {
	return &KNeighbors{K: k.K, Weights: k.Weights}
}

// NearestCentroid assigns each row the label of the closest class mean.
type NearestCentroid struct {
	classes   []float64
	centroids [][]float64
}

func (c *NearestCentroid) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	c.classes = classesOf(y)
	idx := classIndex(c.classes)
	d := len(x[0])
	sums := make([][]float64, len(c.classes))
	counts := make([]float64, len(c.classes))
	for i := range sums {
		sums[i] = make([]float64, d)
	}
	for i, row := range x {
		ci := idx[y[i]]
		floats.Add(sums[ci], row)
		counts[ci]++
	}
	for i := range sums {
		floats.Scale(1/counts[i], sums[i])
	}
	c.centroids = sums
	return ctx.Err()
}

func (c *NearestCentroid) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if c.centroids == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(c.centroids[0])); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		best, bestDist := 0, math.Inf(1)
		for ci, centroid := range c.centroids {
			if d := floats.Distance(row, centroid, 2); d < bestDist {
				best, bestDist = ci, d
			}
		}
		out[i] = c.classes[best]
	}
	return out, nil
}

func (c *NearestCentroid) Clone() workflow.Estimator { return &NearestCentroid{} }

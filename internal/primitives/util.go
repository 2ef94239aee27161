package primitives

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"genens/internal/workflow"
)

var ErrInput = errors.New("invalid training input")

func checkTraining(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: no rows", ErrInput)
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrInput, len(x), len(y))
	}
	return checkWidth(x, len(x[0]))
}

func checkWidth(x [][]float64, width int) error {
	if width == 0 {
		return fmt.Errorf("%w: no features", ErrInput)
	}
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrInput, i, len(row), width)
		}
	}
	return nil
}

// classesOf returns the distinct labels of y in ascending order.
func classesOf(y []float64) []float64 {
	seen := make(map[float64]struct{}, 8)
	for _, v := range y {
		seen[v] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

func classIndex(classes []float64) map[float64]int {
	idx := make(map[float64]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return idx
}

// column copies feature j of x.
func column(x [][]float64, j int) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = row[j]
	}
	return out
}

func mapRows(ctx context.Context, x [][]float64, fn func(row, dst []float64)) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dst := make([]float64, len(row))
		fn(row, dst)
		out[i] = dst
	}
	return out, nil
}

// majority picks the label with the highest accumulated weight; ties go to
// the smallest label.
func majority(votes map[float64]float64) float64 {
	best, bestWeight := 0.0, -1.0
	first := true
	for label, w := range votes {
		if first || w > bestWeight || (w == bestWeight && label < best) {
			best, bestWeight = label, w
			first = false
		}
	}
	return best
}

// argmax returns the index of the largest score, first index on ties.
func argmax(scores []float64) int {
	return floats.MaxIdx(scores)
}

func predictAll(ctx context.Context, members []workflow.Estimator, x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(members))
	for i, m := range members {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pred, err := m.Predict(ctx, x)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		if len(pred) != len(x) {
			return nil, fmt.Errorf("member %d: %d predictions for %d rows", i, len(pred), len(x))
		}
		out[i] = pred
	}
	return out, nil
}

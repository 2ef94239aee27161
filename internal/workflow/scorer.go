package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownScorer = errors.New("unknown scorer")

// Scorer rates a trained estimator on held-out data. Higher is better.
type Scorer func(ctx context.Context, fitted Estimator, x [][]float64, y []float64) (float64, error)

// Accuracy is the fraction of exactly matching predictions.
func Accuracy(ctx context.Context, fitted Estimator, x [][]float64, y []float64) (float64, error) {
	pred, err := predictAligned(ctx, fitted, x, y)
	if err != nil {
		return 0, err
	}
	hits := 0
	for i := range y {
		if pred[i] == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y)), nil
}

// BalancedAccuracy averages per-class recall over the classes present in y.
func BalancedAccuracy(ctx context.Context, fitted Estimator, x [][]float64, y []float64) (float64, error) {
	pred, err := predictAligned(ctx, fitted, x, y)
	if err != nil {
		return 0, err
	}
	total := map[float64]int{}
	hits := map[float64]int{}
	for i, target := range y {
		total[target]++
		if pred[i] == target {
			hits[target]++
		}
	}
	var sum float64
	for class, n := range total {
		sum += float64(hits[class]) / float64(n)
	}
	return sum / float64(len(total)), nil
}

func predictAligned(ctx context.Context, fitted Estimator, x [][]float64, y []float64) ([]float64, error) {
	if len(y) == 0 {
		return nil, fmt.Errorf("score: empty target")
	}
	pred, err := fitted.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	if len(pred) != len(y) {
		return nil, fmt.Errorf("score: %d predictions for %d targets", len(pred), len(y))
	}
	return pred, nil
}

var scorers = map[string]Scorer{
	"accuracy":          Accuracy,
	"balanced_accuracy": BalancedAccuracy,
}

// LookupScorer resolves a scorer by name. The empty name selects accuracy.
func LookupScorer(name string) (Scorer, error) {
	if name == "" {
		return Accuracy, nil
	}
	s, ok := scorers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScorer, name)
	}
	return s, nil
}

func ScorerNames() []string {
	names := make([]string, 0, len(scorers))
	for name := range scorers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

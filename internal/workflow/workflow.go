package workflow

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrBuild      = errors.New("workflow build failed")
	ErrNotTrained = errors.New("workflow is not trained")
)

// Estimator is a trainable predictor. Implementations must honour context
// cancellation in long training loops so abandoned evaluations stop early.
type Estimator interface {
	Fit(ctx context.Context, x [][]float64, y []float64) error
	Predict(ctx context.Context, x [][]float64) ([]float64, error)
	// Clone returns an untrained copy with the same hyperparameters.
	Clone() Estimator
}

type Transformer interface {
	Fit(ctx context.Context, x [][]float64, y []float64) error
	Transform(ctx context.Context, x [][]float64) ([][]float64, error)
	Clone() Transformer
}

// Chain is an ordered transformer sequence, applied first to last. It is the
// compiled form of a data preprocessing subtree.
type Chain []Transformer

func (c Chain) Clone() Chain {
	out := make(Chain, len(c))
	for i, t := range c {
		out[i] = t.Clone()
	}
	return out
}

// FitTransform fits every step on the output of the previous one and returns
// the transformed training matrix.
func (c Chain) FitTransform(ctx context.Context, x [][]float64, y []float64) ([][]float64, error) {
	for i, step := range c {
		if err := step.Fit(ctx, x, y); err != nil {
			return nil, fmt.Errorf("fit step %d: %w", i, err)
		}
		next, err := step.Transform(ctx, x)
		if err != nil {
			return nil, fmt.Errorf("transform step %d: %w", i, err)
		}
		x = next
	}
	return x, nil
}

func (c Chain) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	for i, step := range c {
		next, err := step.Transform(ctx, x)
		if err != nil {
			return nil, fmt.Errorf("transform step %d: %w", i, err)
		}
		x = next
	}
	return x, nil
}

// Pipeline runs a transformer chain in front of a final estimator.
type Pipeline struct {
	Steps Chain
	Final Estimator
}

func (p *Pipeline) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if p.Final == nil {
		return fmt.Errorf("%w: pipeline has no final estimator", ErrBuild)
	}
	xt, err := p.Steps.FitTransform(ctx, x, y)
	if err != nil {
		return err
	}
	return p.Final.Fit(ctx, xt, y)
}

func (p *Pipeline) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if p.Final == nil {
		return nil, fmt.Errorf("%w: pipeline has no final estimator", ErrBuild)
	}
	xt, err := p.Steps.Transform(ctx, x)
	if err != nil {
		return nil, err
	}
	return p.Final.Predict(ctx, xt)
}

func (p *Pipeline) Clone() Estimator {
	out := &Pipeline{Steps: p.Steps.Clone()}
	if p.Final != nil {
		out.Final = p.Final.Clone()
	}
	return out
}

package primitives

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"genens/internal/workflow"
)

// Bagging trains N clones of Base on bootstrap resamples and predicts by
// majority vote.
type Bagging struct {
	N    int
	Base workflow.Estimator
	Seed int64

	members []workflow.Estimator
}

func (b *Bagging) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if b.N < 1 || b.Base == nil {
		return fmt.Errorf("%w: bagging needs a base estimator and n_estimators >= 1", ErrInput)
	}
	rng := rand.New(rand.NewSource(b.Seed))
	members := make([]workflow.Estimator, 0, b.N)
	for m := 0; m < b.N; m++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		bx, by := bootstrap(rng, x, y)
		member := b.Base.Clone()
		if err := member.Fit(ctx, bx, by); err != nil {
			return fmt.Errorf("bagging member %d: %w", m, err)
		}
		members = append(members, member)
	}
	b.members = members
	return nil
}

func bootstrap(rng *rand.Rand, x [][]float64, y []float64) ([][]float64, []float64) {
	bx := make([][]float64, len(x))
	by := make([]float64, len(y))
	for i := range bx {
		j := rng.Intn(len(x))
		bx[i], by[i] = x[j], y[j]
	}
	return bx, by
}

func (b *Bagging) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if b.members == nil {
		return nil, workflow.ErrNotTrained
	}
	preds, err := predictAll(ctx, b.members, x)
	if err != nil {
		return nil, err
	}
	weights := make([]float64, len(preds))
	floats.AddConst(1, weights)
	return weightedVote(preds, weights, len(x)), nil
}

func (b *Bagging) Clone() workflow.Estimator {
	out := &Bagging{N: b.N, Seed: b.Seed}
	if b.Base != nil {
		out.Base = b.Base.Clone()
	}
	return out
}

// AdaBoost is multi-class SAMME boosting. Sample weights are applied by
// weighted resampling so any estimator can serve as the base.
type AdaBoost struct {
	N    int
	Base workflow.Estimator
	Seed int64

	members []workflow.Estimator
	alphas  []float64
}

func (a *AdaBoost) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if a.N < 1 || a.Base == nil {
		return fmt.Errorf("%w: ada needs a base estimator and n_estimators >= 1", ErrInput)
	}
	k := float64(len(classesOf(y)))
	n := len(x)
	rng := rand.New(rand.NewSource(a.Seed))
	w := make([]float64, n)
	floats.AddConst(1/float64(n), w)
	cumulative := make([]float64, n)

	var members []workflow.Estimator
	var alphas []float64
	for m := 0; m < a.N; m++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		floats.CumSum(cumulative, w)
		bx, by := weightedResample(rng, cumulative, x, y)
		member := a.Base.Clone()
		if err := member.Fit(ctx, bx, by); err != nil {
			return fmt.Errorf("ada member %d: %w", m, err)
		}
		pred, err := member.Predict(ctx, x)
		if err != nil {
			return fmt.Errorf("ada member %d: %w", m, err)
		}

		var errRate float64
		miss := make([]bool, n)
		for i := range y {
			if pred[i] != y[i] {
				miss[i] = true
				errRate += w[i]
			}
		}
		errRate /= floats.Sum(w)

		if errRate <= 0 {
			members, alphas = append(members, member), append(alphas, 1)
			break
		}
		if errRate >= 1-1/k {
			if len(members) == 0 {
				members, alphas = append(members, member), append(alphas, 1)
			}
			break
		}
		alpha := math.Log((1-errRate)/errRate) + math.Log(k-1)
		members, alphas = append(members, member), append(alphas, alpha)
		for i := range w {
			if miss[i] {
				w[i] *= math.Exp(alpha)
			}
		}
		floats.Scale(1/floats.Sum(w), w)
	}
	a.members, a.alphas = members, alphas
	return nil
}

func weightedResample(rng *rand.Rand, cumulative []float64, x [][]float64, y []float64) ([][]float64, []float64) {
	total := cumulative[len(cumulative)-1]
	bx := make([][]float64, len(x))
	by := make([]float64, len(y))
	for i := range bx {
		r := rng.Float64() * total
		j := sort.SearchFloat64s(cumulative, r)
		if j >= len(x) {
			j = len(x) - 1
		}
		bx[i], by[i] = x[j], y[j]
	}
	return bx, by
}

func (a *AdaBoost) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if a.members == nil {
		return nil, workflow.ErrNotTrained
	}
	preds, err := predictAll(ctx, a.members, x)
	if err != nil {
		return nil, err
	}
	return weightedVote(preds, a.alphas, len(x)), nil
}

func (a *AdaBoost) Clone() workflow.Estimator {
	out := &AdaBoost{N: a.N, Seed: a.Seed}
	if a.Base != nil {
		out.Base = a.Base.Clone()
	}
	return out
}

// Voting is a hard-voting ensemble over heterogeneous members.
type Voting struct {
	Members []workflow.Estimator

	trained bool
}

func (v *Voting) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if len(v.Members) == 0 {
		return fmt.Errorf("%w: voting has no members", ErrInput)
	}
	for i, m := range v.Members {
		if err := m.Fit(ctx, x, y); err != nil {
			return fmt.Errorf("voting member %d: %w", i, err)
		}
	}
	v.trained = true
	return nil
}

func (v *Voting) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if !v.trained {
		return nil, workflow.ErrNotTrained
	}
	preds, err := predictAll(ctx, v.Members, x)
	if err != nil {
		return nil, err
	}
	weights := make([]float64, len(preds))
	floats.AddConst(1, weights)
	return weightedVote(preds, weights, len(x)), nil
}

func (v *Voting) Clone() workflow.Estimator {
	members := make([]workflow.Estimator, len(v.Members))
	for i, m := range v.Members {
		members[i] = m.Clone()
	}
	return &Voting{Members: members}
}

func weightedVote(preds [][]float64, weights []float64, rows int) []float64 {
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		votes := map[float64]float64{}
		for m, pred := range preds {
			votes[pred[i]] += weights[m]
		}
		out[i] = majority(votes)
	}
	return out
}

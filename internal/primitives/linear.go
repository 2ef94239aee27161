package primitives

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"genens/internal/workflow"
)

// linearModel holds one weight vector and bias per class.
type linearModel struct {
	classes []float64
	w       [][]float64
	b       []float64
}

func (m *linearModel) init(classes []float64, d int) {
	m.classes = classes
	m.w = make([][]float64, len(classes))
	for i := range m.w {
		m.w[i] = make([]float64, d)
	}
	m.b = make([]float64, len(classes))
}

func (m *linearModel) decision(row, dst []float64) {
	for c := range m.w {
		dst[c] = floats.Dot(m.w[c], row) + m.b[c]
	}
}

func (m *linearModel) predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if m.w == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(m.w[0])); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	if len(m.classes) == 1 {
		for i := range out {
			out[i] = m.classes[0]
		}
		return out, nil
	}
	scores := make([]float64, len(m.classes))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		m.decision(row, scores)
		out[i] = m.classes[argmax(scores)]
	}
	return out, nil
}

// Perceptron is a one-vs-rest perceptron trained for Iter passes over the
// data in row order. Penalty "l2" or "l1" shrinks weights by Alpha after
// every update.
type Perceptron struct {
	Iter    int
	Alpha   float64
	Penalty string

	model linearModel
}

func (p *Perceptron) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if p.Iter < 1 {
		return fmt.Errorf("%w: n_iter=%d", ErrInput, p.Iter)
	}
	switch p.Penalty {
	case "", "none", "l1", "l2":
	default:
		return fmt.Errorf("%w: unknown penalty %q", ErrInput, p.Penalty)
	}

	p.model.init(classesOf(y), len(x[0]))
	for epoch := 0; epoch < p.Iter; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, row := range x {
			for c, class := range p.model.classes {
				target := -1.0
				if y[i] == class {
					target = 1
				}
				if target*(floats.Dot(p.model.w[c], row)+p.model.b[c]) > 0 {
					continue
				}
				floats.AddScaled(p.model.w[c], target, row)
				p.model.b[c] += target
				p.regularize(p.model.w[c])
			}
		}
	}
	return nil
}

func (p *Perceptron) regularize(w []float64) {
	switch p.Penalty {
	case "l2":
		floats.Scale(1-p.Alpha, w)
	case "l1":
		for j, v := range w {
			w[j] = math.Copysign(math.Max(math.Abs(v)-p.Alpha, 0), v)
		}
	}
}

func (p *Perceptron) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	return p.model.predict(ctx, x)
}

func (p *Perceptron) Clone() workflow.Estimator {
	return &Perceptron{Iter: p.Iter, Alpha: p.Alpha, Penalty: p.Penalty}
}

// LogisticRegression is a multinomial softmax model fitted by batch gradient
// descent. C is the inverse regularization strength. Training stops when the
// largest gradient component drops below Tol or after MaxIter steps.
type LogisticRegression struct {
	C       float64
	Tol     float64
	Penalty string
	MaxIter int

	model linearModel
}

const logRLearningRate = 0.1

func (l *LogisticRegression) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if l.C <= 0 {
		return fmt.Errorf("%w: C=%v", ErrInput, l.C)
	}
	switch l.Penalty {
	case "", "l1", "l2":
	default:
		return fmt.Errorf("%w: unknown penalty %q", ErrInput, l.Penalty)
	}
	maxIter := l.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}

	classes := classesOf(y)
	l.model.init(classes, len(x[0]))
	if len(classes) == 1 {
		return nil
	}
	idx := classIndex(classes)
	n := float64(len(x))
	k, d := len(classes), len(x[0])

	gradW := make([][]float64, k)
	for c := range gradW {
		gradW[c] = make([]float64, d)
	}
	gradB := make([]float64, k)
	prob := make([]float64, k)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for c := range gradW {
			for j := range gradW[c] {
				gradW[c][j] = 0
			}
			gradB[c] = 0
		}
		for i, row := range x {
			l.model.decision(row, prob)
			softmax(prob)
			prob[idx[y[i]]]--
			for c := range prob {
				floats.AddScaled(gradW[c], prob[c]/n, row)
				gradB[c] += prob[c] / n
			}
		}

		var worst float64
		for c := range gradW {
			for j, w := range l.model.w[c] {
				switch l.Penalty {
				case "l1":
					gradW[c][j] += sign(w) / (l.C * n)
				default:
					gradW[c][j] += w / (l.C * n)
				}
				worst = math.Max(worst, math.Abs(gradW[c][j]))
			}
			worst = math.Max(worst, math.Abs(gradB[c]))
			floats.AddScaled(l.model.w[c], -logRLearningRate, gradW[c])
			l.model.b[c] -= logRLearningRate * gradB[c]
		}
		if worst < l.Tol {
			break
		}
	}
	return nil
}

func (l *LogisticRegression) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	return l.model.predict(ctx, x)
}

func (l *LogisticRegression) Clone() workflow.Estimator {
	return &LogisticRegression{C: l.C, Tol: l.Tol, Penalty: l.Penalty, MaxIter: l.MaxIter}
}

// softmax replaces scores with normalized probabilities in place.
func softmax(scores []float64) {
	top := floats.Max(scores)
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - top)
		sum += scores[i]
	}
	floats.Scale(1/sum, scores)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

package primitives

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"genens/internal/workflow"
)

// StandardScaler removes the column mean and scales to unit population
// variance. Constant columns keep a unit scale.
type StandardScaler struct {
	mean  []float64
	scale []float64
}

func (s *StandardScaler) Fit(_ context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	d := len(x[0])
	s.mean = make([]float64, d)
	s.scale = make([]float64, d)
	for j := 0; j < d; j++ {
		mean, std := stat.PopMeanStdDev(column(x, j), nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.mean[j], s.scale[j] = mean, std
	}
	return nil
}

func (s *StandardScaler) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	if s.mean == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(s.mean)); err != nil {
		return nil, err
	}
	return mapRows(ctx, x, func(row, dst []float64) {
		floats.SubTo(dst, row, s.mean)
		floats.Div(dst, s.scale)
	})
}

func (s *StandardScaler) Clone() workflow.Transformer { return &StandardScaler{} }

// MinMaxScaler maps every column onto [0, 1] using the training range.
type MinMaxScaler struct {
	min   []float64
	scale []float64
}

func (s *MinMaxScaler) Fit(_ context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	d := len(x[0])
	s.min = make([]float64, d)
	s.scale = make([]float64, d)
	for j := 0; j < d; j++ {
		col := column(x, j)
		lo, hi := floats.Min(col), floats.Max(col)
		s.min[j] = lo
		s.scale[j] = hi - lo
		if s.scale[j] == 0 {
			s.scale[j] = 1
		}
	}
	return nil
}

func (s *MinMaxScaler) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	if s.min == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(s.min)); err != nil {
		return nil, err
	}
	return mapRows(ctx, x, func(row, dst []float64) {
		floats.SubTo(dst, row, s.min)
		floats.Div(dst, s.scale)
	})
}

func (s *MinMaxScaler) Clone() workflow.Transformer { return &MinMaxScaler{} }

// MaxAbsScaler divides every column by its largest absolute training value.
type MaxAbsScaler struct {
	scale []float64
}

func (s *MaxAbsScaler) Fit(_ context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	d := len(x[0])
	s.scale = make([]float64, d)
	for j := 0; j < d; j++ {
		s.scale[j] = floats.Norm(column(x, j), math.Inf(1))
		if s.scale[j] == 0 {
			s.scale[j] = 1
		}
	}
	return nil
}

func (s *MaxAbsScaler) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	if s.scale == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(s.scale)); err != nil {
		return nil, err
	}
	return mapRows(ctx, x, func(row, dst []float64) {
		floats.DivTo(dst, row, s.scale)
	})
}

func (s *MaxAbsScaler) Clone() workflow.Transformer { return &MaxAbsScaler{} }

// Normalizer rescales each row to unit norm. It is stateless.
type Normalizer struct {
	Norm string
}

func (n *Normalizer) Fit(context.Context, [][]float64, []float64) error { return nil }

func (n *Normalizer) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	var l float64
	switch n.Norm {
	case "l1":
		l = 1
	case "", "l2":
		l = 2
	case "max":
		l = math.Inf(1)
	default:
		return nil, fmt.Errorf("%w: unknown norm %q", ErrInput, n.Norm)
	}
	return mapRows(ctx, x, func(row, dst []float64) {
		copy(dst, row)
		if norm := floats.Norm(row, l); norm > 0 {
			floats.Scale(1/norm, dst)
		}
	})
}

func (n *Normalizer) Clone() workflow.Transformer { return &Normalizer{Norm: n.Norm} }

// KBest keeps the K columns with the highest ANOVA F statistic against the
// class labels. K at or above the column count keeps every column.
type KBest struct {
	K int

	keep []int
	dim  int
}

func (k *KBest) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if k.K < 1 {
		return fmt.Errorf("%w: k=%d", ErrInput, k.K)
	}
	d := len(x[0])
	k.dim = d
	scores := make([]float64, d)
	for j := 0; j < d; j++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		scores[j] = fScore(column(x, j), y)
	}
	order := make([]int, d)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	n := k.K
	if n > d {
		n = d
	}
	k.keep = append([]int(nil), order[:n]...)
	sort.Ints(k.keep)
	return nil
}

func (k *KBest) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	if k.keep == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, k.dim); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		dst := make([]float64, len(k.keep))
		for c, j := range k.keep {
			dst[c] = row[j]
		}
		out[i] = dst
	}
	return out, nil
}

func (k *KBest) Clone() workflow.Transformer { return &KBest{K: k.K} }

// fScore is the one-way ANOVA F statistic of a feature grouped by label.
// Degenerate features score zero.
func fScore(col, y []float64) float64 {
	groups := map[float64][]float64{}
	for i, v := range col {
		groups[y[i]] = append(groups[y[i]], v)
	}
	n, g := float64(len(col)), float64(len(groups))
	if g < 2 || n <= g {
		return 0
	}
	grand := stat.Mean(col, nil)
	var between, within float64
	for _, vals := range groups {
		m := stat.Mean(vals, nil)
		between += float64(len(vals)) * (m - grand) * (m - grand)
		for _, v := range vals {
			within += (v - m) * (v - m)
		}
	}
	if within == 0 {
		if between == 0 {
			return 0
		}
		return math.MaxFloat64
	}
	return (between / (g - 1)) / (within / (n - g))
}

// PCA projects centred rows onto the leading principal directions.
type PCA struct {
	Components int
	Whiten     bool

	mean []float64
	proj *mat.Dense
	std  []float64
}

func (p *PCA) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	if p.Components < 1 {
		return fmt.Errorf("%w: n_components=%d", ErrInput, p.Components)
	}
	n, d := len(x), len(x[0])
	data := mat.NewDense(n, d, nil)
	for i, row := range x {
		data.SetRow(i, row)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return fmt.Errorf("%w: principal component decomposition failed", ErrInput)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	_, avail := vecs.Dims()
	k := p.Components
	if k > avail {
		k = avail
	}
	p.proj = mat.DenseCopyOf(vecs.Slice(0, d, 0, k))
	p.std = make([]float64, k)
	for c := 0; c < k; c++ {
		p.std[c] = math.Sqrt(vars[c])
		if p.std[c] == 0 {
			p.std[c] = 1
		}
	}
	p.mean = make([]float64, d)
	for j := 0; j < d; j++ {
		p.mean[j] = stat.Mean(column(x, j), nil)
	}
	return nil
}

func (p *PCA) Transform(ctx context.Context, x [][]float64) ([][]float64, error) {
	if p.proj == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, len(p.mean)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, d := len(x), len(p.mean)
	centred := mat.NewDense(n, d, nil)
	buf := make([]float64, d)
	for i, row := range x {
		floats.SubTo(buf, row, p.mean)
		centred.SetRow(i, buf)
	}
	var projected mat.Dense
	projected.Mul(centred, p.proj)

	_, k := p.proj.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &projected)
		if p.Whiten {
			floats.Div(out[i], p.std[:k])
		}
	}
	return out, nil
}

func (p *PCA) Clone() workflow.Transformer {
	return &PCA{Components: p.Components, Whiten: p.Whiten}
}

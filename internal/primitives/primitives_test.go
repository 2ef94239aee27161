package primitives

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"genens/internal/gp"
	"genens/internal/workflow"
)

// blobs returns two well separated classes in two dimensions.
func blobs(n int) ([][]float64, []float64) {
	x := make([][]float64, 0, n)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		class := float64(i % 2)
		jitter := float64(i%7) * 0.1
		x = append(x, []float64{class*5 + jitter, class*5 - jitter})
		y = append(y, class)
	}
	return x, y
}

func accuracy(t *testing.T, est workflow.Estimator, x [][]float64, y []float64) float64 {
	t.Helper()
	score, err := workflow.Accuracy(context.Background(), est, x, y)
	require.NoError(t, err)
	return score
}

func TestEstimatorsSeparateBlobs(t *testing.T) {
	ctx := context.Background()
	x, y := blobs(40)

	cases := map[string]workflow.Estimator{
		"knn-uniform":  &KNeighbors{K: 5, Weights: "uniform"},
		"knn-distance": &KNeighbors{K: 2, Weights: "distance"},
		"centroid":     &NearestCentroid{},
		"nb":           &GaussianNB{},
		"perceptron":   &Perceptron{Iter: 10, Alpha: 0.0001, Penalty: "l2"},
		"logr":         &LogisticRegression{C: 1, Tol: 0.001, Penalty: "l2"},
		"tree":         &DecisionTree{Criterion: "gini", MaxFeatures: 1, MaxDepth: 5, MinSamplesSplit: 2, MinSamplesLeaf: 1},
		"bagging":      &Bagging{N: 5, Base: &NearestCentroid{}, Seed: 1},
		"ada":          &AdaBoost{N: 5, Base: &DecisionTree{Criterion: "entropy", MaxFeatures: 1, MaxDepth: 1}, Seed: 1},
		"voting":       &Voting{Members: []workflow.Estimator{&GaussianNB{}, &NearestCentroid{}, &KNeighbors{K: 1}}},
		"pipeline":     &workflow.Pipeline{Steps: workflow.Chain{&StandardScaler{}}, Final: &Perceptron{Iter: 5, Penalty: "none"}},
	}
	for name, est := range cases {
		est := est
		t.Run(name, func(t *testing.T) {
			_, err := est.Clone().Predict(ctx, x)
			assert.ErrorIs(t, err, workflow.ErrNotTrained)

			require.NoError(t, est.Fit(ctx, x, y))
			assert.GreaterOrEqual(t, accuracy(t, est, x, y), 0.9)
		})
	}
}

func TestEstimatorsRejectBadHyperparameters(t *testing.T) {
	ctx := context.Background()
	x, y := blobs(10)

	for name, est := range map[string]workflow.Estimator{
		"knn":        &KNeighbors{K: 0},
		"knn-weight": &KNeighbors{K: 1, Weights: "cosine"},
		"perceptron": &Perceptron{Iter: 0},
		"logr":       &LogisticRegression{C: 0},
		"tree":       &DecisionTree{MaxDepth: 0},
		"bagging":    &Bagging{N: 3},
		"voting":     &Voting{},
	} {
		assert.Error(t, est.Fit(ctx, x, y), name)
	}
	assert.ErrorIs(t, (&GaussianNB{}).Fit(ctx, x, y[:3]), ErrInput)
}

func TestEstimatorsStopOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	x, y := blobs(20)

	assert.ErrorIs(t, (&LogisticRegression{C: 1}).Fit(ctx, x, y), context.Canceled)
	assert.ErrorIs(t, (&Perceptron{Iter: 3}).Fit(ctx, x, y), context.Canceled)
	assert.ErrorIs(t, (&DecisionTree{MaxDepth: 3}).Fit(ctx, x, y), context.Canceled)
	assert.ErrorIs(t, (&Bagging{N: 2, Base: &GaussianNB{}}).Fit(ctx, x, y), context.Canceled)
}

func TestScalers(t *testing.T) {
	ctx := context.Background()
	x := [][]float64{{1, -4, 7}, {2, 0, 7}, {3, 8, 7}, {6, 4, 7}}
	y := []float64{0, 1, 0, 1}

	std := &StandardScaler{}
	require.NoError(t, std.Fit(ctx, x, y))
	out, err := std.Transform(ctx, x)
	require.NoError(t, err)
	for j := 0; j < 2; j++ {
		mean, sd := stat.PopMeanStdDev(column(out, j), nil)
		assert.InDelta(t, 0, mean, 1e-12)
		assert.InDelta(t, 1, sd, 1e-12)
	}
	assert.Equal(t, []float64{0, 0, 0, 0}, column(out, 2), "constant column is only centred")

	mm := &MinMaxScaler{}
	require.NoError(t, mm.Fit(ctx, x, y))
	out, err = mm.Transform(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.2, 0.4, 1}, column(out, 0))

	ma := &MaxAbsScaler{}
	require.NoError(t, ma.Fit(ctx, x, y))
	out, err = ma.Transform(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0, 1, 0.5}, column(out, 1))

	_, err = (&MinMaxScaler{}).Transform(ctx, x)
	assert.ErrorIs(t, err, workflow.ErrNotTrained)
	_, err = mm.Transform(ctx, [][]float64{{1, 2}})
	assert.ErrorIs(t, err, ErrInput)
}

func TestNormalizer(t *testing.T) {
	ctx := context.Background()
	x := [][]float64{{3, 4}, {0, 0}}

	out, err := (&Normalizer{Norm: "l2"}).Transform(ctx, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, out[0], 1e-12)
	assert.Equal(t, []float64{0, 0}, out[1])

	out, err = (&Normalizer{Norm: "l1"}).Transform(ctx, x)
	require.NoError(t, err)
	assert.InDelta(t, 1, floats.Norm(out[0], 1), 1e-12)

	out, err = (&Normalizer{Norm: "max"}).Transform(ctx, x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.75, 1}, out[0], 1e-12)

	_, err = (&Normalizer{Norm: "l3"}).Transform(ctx, x)
	assert.ErrorIs(t, err, ErrInput)
	assert.Equal(t, [][]float64{{3, 4}, {0, 0}}, x, "input is not modified")
}

func TestKBestKeepsInformativeColumns(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(4))
	x := make([][]float64, 30)
	y := make([]float64, 30)
	for i := range x {
		y[i] = float64(i % 2)
		x[i] = []float64{rng.Float64(), y[i]*3 + rng.Float64()*0.1, 1}
	}

	kb := &KBest{K: 1}
	require.NoError(t, kb.Fit(ctx, x, y))
	out, err := kb.Transform(ctx, x)
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, x[5][1], out[5][0])

	all := &KBest{K: 10}
	require.NoError(t, all.Fit(ctx, x, y))
	out, err = all.Transform(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, x[0], out[0])
}

func TestPCAReducesWidth(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(2))
	x := make([][]float64, 25)
	y := make([]float64, 25)
	for i := range x {
		a, b := rng.NormFloat64(), rng.NormFloat64()
		x[i] = []float64{a, 2 * a, b}
		y[i] = float64(i % 2)
	}

	for _, whiten := range []bool{false, true} {
		pca := &PCA{Components: 2, Whiten: whiten}
		require.NoError(t, pca.Fit(ctx, x, y))
		out, err := pca.Transform(ctx, x)
		require.NoError(t, err)
		require.Len(t, out, 25)
		assert.Len(t, out[0], 2)
		mean := stat.Mean(column(out, 0), nil)
		assert.InDelta(t, 0, mean, 1e-9)
		if whiten {
			assert.InDelta(t, 1, stat.Variance(column(out, 0), nil), 1e-9)
		}
	}
	assert.Error(t, (&PCA{}).Fit(ctx, x, y))
}

func TestComponentCounts(t *testing.T) {
	assert.Equal(t, []any{1}, componentCounts(0))
	assert.Equal(t, []any{1, 2, 3}, componentCounts(3))
	assert.Equal(t, []any{1, 2, 5, 7, 10}, componentCounts(10))
}

func TestCatalogueGeneratesTrainablePipelines(t *testing.T) {
	c, err := NewCatalogue(Options{Features: 2, Seed: 1})
	require.NoError(t, err)

	out, err := c.Lookup("KNeighbors", TypeOut)
	require.NoError(t, err)
	assert.True(t, out.TerminalOnly)
	ens, err := c.Lookup("KNeighbors", TypeEnsemble)
	require.NoError(t, err)
	assert.False(t, ens.TerminalOnly)
	assert.ElementsMatch(t, []string{TypeData, TypeEnsemble, TypeOut}, c.Types())

	limits := gp.Limits{MaxHeight: 4, MaxNodes: 12, MaxArity: 3}
	gen, err := gp.NewGenerator(c, limits, rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	builder := workflow.NewBuilder(c)
	ctx := context.Background()
	x, y := blobs(30)

	for i := 0; i < 20; i++ {
		tree, err := gen.GenerateRamped(TypeOut, i)
		require.NoError(t, err)
		require.NoError(t, tree.Validate(TypeOut, limits))

		est, err := builder.Build(tree)
		require.NoError(t, err, tree.String())
		// Pathological draws may fail to train; they must fail with an
		// error rather than a panic.
		if err := est.Fit(ctx, x, y); err != nil {
			continue
		}
		pred, err := est.Predict(ctx, x)
		require.NoError(t, err, tree.String())
		assert.Len(t, pred, len(y))
		for _, p := range pred {
			assert.False(t, math.IsNaN(p))
		}
	}
}

func TestCatalogueCompilesKnownTree(t *testing.T) {
	c, err := NewCatalogue(Options{Features: 2})
	require.NoError(t, err)
	lookup := func(name, out string) *gp.Primitive {
		p, err := c.Lookup(name, out)
		require.NoError(t, err)
		return p
	}

	knn := &gp.Node{Prim: lookup("KNeighbors", TypeOut), Params: gp.Params{"n_neighbors": 1, "weights": "uniform"}}
	nb := &gp.Node{Prim: lookup("gaussianNB", TypeOut)}
	vote := &gp.Node{Prim: lookup("voting", TypeEnsemble), Children: [][]*gp.Node{{knn, nb}}}
	scale := &gp.Node{
		Prim:     lookup("StandardScaler", TypeData),
		Children: [][]*gp.Node{{{Prim: lookup("dTerm", TypeData)}}},
	}
	root := &gp.Node{Prim: lookup("cPipe", TypeOut), Children: [][]*gp.Node{{vote}, {scale}}}
	tree := gp.Tree{Root: root}
	require.NoError(t, tree.Validate(TypeOut, gp.Limits{MaxHeight: 5, MaxNodes: 10, MaxArity: 3}))

	est, err := workflow.NewBuilder(c).Build(tree)
	require.NoError(t, err)
	pipe, ok := est.(*workflow.Pipeline)
	require.True(t, ok)
	require.Len(t, pipe.Steps, 1)
	assert.IsType(t, &StandardScaler{}, pipe.Steps[0])
	voting, ok := pipe.Final.(*Voting)
	require.True(t, ok)
	assert.Len(t, voting.Members, 2)

	x, y := blobs(20)
	require.NoError(t, est.Fit(context.Background(), x, y))
	assert.Equal(t, 1.0, accuracy(t, est, x, y))
}

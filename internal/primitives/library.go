// Package primitives provides the default classification grammar: a
// pipeline root over preprocessing chains, predictors and ensembles, with
// the estimators implemented on gonum.
package primitives

import (
	"fmt"
	"sort"

	"genens/internal/gp"
	"genens/internal/workflow"
)

// Grammar types of the default library.
const (
	TypeOut      = "out"
	TypeData     = "data"
	TypeEnsemble = "ens"
)

type Options struct {
	// Features is the column count of the training data; it bounds the
	// component counts offered to feature selectors.
	Features int
	// Seed drives every randomized estimator built from the catalogue.
	Seed int64
}

type predictor struct {
	name   string
	domain gp.Domain
	build  func(p gp.Params, seed int64) workflow.Estimator
}

type transformer struct {
	name   string
	domain gp.Domain
	build  func(p gp.Params) workflow.Transformer
}

var predictors = []predictor{
	{
		name: "KNeighbors",
		domain: gp.Domain{
			"n_neighbors": {1, 2, 5},
			"weights":     {"uniform", "distance"},
		},
		build: func(p gp.Params, _ int64) workflow.Estimator {
			return &KNeighbors{K: intParam(p, "n_neighbors"), Weights: stringParam(p, "weights")}
		},
	},
	{
		name: "logR",
		domain: gp.Domain{
			"penalty": {"l1", "l2"},
			"C":       {0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 15.0},
			"tol":     {0.0001, 0.001, 0.01},
		},
		build: func(p gp.Params, _ int64) workflow.Estimator {
			return &LogisticRegression{C: floatParam(p, "C"), Tol: floatParam(p, "tol"), Penalty: stringParam(p, "penalty")}
		},
	},
	{
		name: "Perceptron",
		domain: gp.Domain{
			"penalty": {"none", "l2", "l1"},
			"n_iter":  {1, 2, 5, 10, 100},
			"alpha":   {0.0001, 0.001, 0.01},
		},
		build: func(p gp.Params, _ int64) workflow.Estimator {
			return &Perceptron{Iter: intParam(p, "n_iter"), Alpha: floatParam(p, "alpha"), Penalty: stringParam(p, "penalty")}
		},
	},
	{
		name: "gaussianNB",
		build: func(gp.Params, int64) workflow.Estimator {
			return &GaussianNB{}
		},
	},
	{
		name: "NearestCentroid",
		build: func(gp.Params, int64) workflow.Estimator {
			return &NearestCentroid{}
		},
	},
	{
		name: "DT",
		domain: gp.Domain{
			"criterion":         {"gini", "entropy"},
			"max_features":      {0.05, 0.1, 0.25, 0.5, 0.75, 1.0},
			"max_depth":         {1, 2, 5, 10, 15, 25, 50, 100},
			"min_samples_split": {2, 5, 10, 20},
			"min_samples_leaf":  {1, 2, 5, 10, 20},
		},
		build: func(p gp.Params, seed int64) workflow.Estimator {
			return &DecisionTree{
				Criterion:       stringParam(p, "criterion"),
				MaxFeatures:     floatParam(p, "max_features"),
				MaxDepth:        intParam(p, "max_depth"),
				MinSamplesSplit: intParam(p, "min_samples_split"),
				MinSamplesLeaf:  intParam(p, "min_samples_leaf"),
				Seed:            seed,
			}
		},
	},
}

func transformers(features int) []transformer {
	components := componentCounts(features)
	return []transformer{
		{
			name:   "kBest",
			domain: gp.Domain{"k": components},
			build:  func(p gp.Params) workflow.Transformer { return &KBest{K: intParam(p, "k")} },
		},
		{
			name:   "PCA",
			domain: gp.Domain{"n_components": components, "whiten": {false, true}},
			build: func(p gp.Params) workflow.Transformer {
				return &PCA{Components: intParam(p, "n_components"), Whiten: boolParam(p, "whiten")}
			},
		},
		{name: "MaxAbsScaler", build: func(gp.Params) workflow.Transformer { return &MaxAbsScaler{} }},
		{name: "MinMaxScaler", build: func(gp.Params) workflow.Transformer { return &MinMaxScaler{} }},
		{
			name:   "Normalizer",
			domain: gp.Domain{"norm": {"l1", "l2", "max"}},
			build:  func(p gp.Params) workflow.Transformer { return &Normalizer{Norm: stringParam(p, "norm")} },
		},
		{name: "StandardScaler", build: func(gp.Params) workflow.Transformer { return &StandardScaler{} }},
	}
}

// componentCounts offers a spread of output widths no larger than the input
// width, always including the full width.
func componentCounts(features int) []any {
	if features < 1 {
		features = 1
	}
	seen := map[int]struct{}{}
	for _, frac := range []float64{0.1, 0.25, 0.5, 0.75} {
		if n := int(frac * float64(features)); n >= 1 {
			seen[n] = struct{}{}
		}
	}
	seen[1] = struct{}{}
	seen[features] = struct{}{}
	counts := make([]int, 0, len(seen))
	for n := range seen {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	out := make([]any, len(counts))
	for i, n := range counts {
		out[i] = n
	}
	return out
}

// NewCatalogue registers the default classification grammar rooted at
// TypeOut and validates it.
func NewCatalogue(opts Options) (*gp.Catalogue, error) {
	c := gp.NewCatalogue()
	seed := opts.Seed

	entries := []gp.Entry{
		{
			Primitive: gp.Primitive{
				Name:  "cPipe",
				Out:   TypeOut,
				Slots: []gp.TypeArity{{Type: TypeEnsemble, Arity: gp.Exactly(1)}, {Type: TypeData, Arity: gp.Between(0, 1)}},
			},
			Build: buildPipeline,
		},
		{
			Primitive: gp.Primitive{Name: "dTerm", Out: TypeData},
			Build:     func(gp.Params, [][]any) (any, error) { return workflow.Chain{}, nil },
		},
		{
			Primitive: gp.Primitive{
				Name:   "bagging",
				Out:    TypeEnsemble,
				Slots:  []gp.TypeArity{{Type: TypeOut, Arity: gp.Exactly(1)}},
				Domain: gp.Domain{"n_estimators": {5, 10, 50, 100, 200}},
			},
			Build: func(p gp.Params, children [][]any) (any, error) {
				members, err := estimators(children[0])
				if err != nil {
					return nil, err
				}
				return &Bagging{N: intParam(p, "n_estimators"), Base: members[0], Seed: seed}, nil
			},
		},
		{
			Primitive: gp.Primitive{
				Name:   "ada",
				Out:    TypeEnsemble,
				Slots:  []gp.TypeArity{{Type: TypeOut, Arity: gp.Exactly(1)}},
				Domain: gp.Domain{"n_estimators": {5, 10, 50, 100, 200}},
			},
			Build: func(p gp.Params, children [][]any) (any, error) {
				members, err := estimators(children[0])
				if err != nil {
					return nil, err
				}
				return &AdaBoost{N: intParam(p, "n_estimators"), Base: members[0], Seed: seed}, nil
			},
		},
		{
			Primitive: gp.Primitive{
				Name:  "voting",
				Out:   TypeEnsemble,
				Slots: []gp.TypeArity{{Type: TypeOut, Arity: gp.AtLeast(2)}},
			},
			Build: func(_ gp.Params, children [][]any) (any, error) {
				members, err := estimators(children[0])
				if err != nil {
					return nil, err
				}
				return &Voting{Members: members}, nil
			},
		},
	}

	for _, t := range transformers(opts.Features) {
		t := t
		entries = append(entries, gp.Entry{
			Primitive: gp.Primitive{
				Name:   t.name,
				Out:    TypeData,
				Slots:  []gp.TypeArity{{Type: TypeData, Arity: gp.Exactly(1)}},
				Domain: t.domain,
			},
			Build: func(p gp.Params, children [][]any) (any, error) {
				chain, ok := children[0][0].(workflow.Chain)
				if !ok {
					return nil, fmt.Errorf("%s: input compiled to %T, not a chain", t.name, children[0][0])
				}
				return append(append(workflow.Chain{}, chain...), t.build(p)), nil
			},
		})
	}

	for _, p := range predictors {
		p := p
		build := func(params gp.Params, _ [][]any) (any, error) {
			return p.build(params, seed), nil
		}
		entries = append(entries,
			gp.Entry{Primitive: gp.Primitive{Name: p.name, Out: TypeEnsemble, Domain: p.domain}, Build: build},
			gp.Entry{Primitive: gp.Primitive{Name: p.name, Out: TypeOut, Domain: p.domain, TerminalOnly: true}, Build: build},
		)
	}

	for _, e := range entries {
		if err := c.Register(e); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(TypeOut); err != nil {
		return nil, err
	}
	return c, nil
}

func buildPipeline(_ gp.Params, children [][]any) (any, error) {
	final, err := estimators(children[0])
	if err != nil {
		return nil, err
	}
	p := &workflow.Pipeline{Final: final[0]}
	if len(children) > 1 && len(children[1]) == 1 {
		chain, ok := children[1][0].(workflow.Chain)
		if !ok {
			return nil, fmt.Errorf("cPipe: preprocessing compiled to %T, not a chain", children[1][0])
		}
		p.Steps = chain
	}
	return p, nil
}

func estimators(built []any) ([]workflow.Estimator, error) {
	if len(built) == 0 {
		return nil, fmt.Errorf("no estimator members")
	}
	out := make([]workflow.Estimator, len(built))
	for i, b := range built {
		est, ok := b.(workflow.Estimator)
		if !ok {
			return nil, fmt.Errorf("member %d compiled to %T, not an estimator", i, b)
		}
		out[i] = est
	}
	return out, nil
}

func intParam(p gp.Params, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func floatParam(p gp.Params, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func stringParam(p gp.Params, key string) string {
	s, _ := p[key].(string)
	return s
}

func boolParam(p gp.Params, key string) bool {
	b, _ := p[key].(bool)
	return b
}

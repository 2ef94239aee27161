package evo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genens/internal/dataset"
	"genens/internal/evaluate"
	"genens/internal/gp"
	"genens/internal/workflow"
)

// fixedScore is a workflow whose evaluation score is known when it is built.
type fixedScore struct {
	score float64
}

func (f *fixedScore) Fit(context.Context, [][]float64, []float64) error { return nil }

func (f *fixedScore) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}

func (f *fixedScore) Clone() workflow.Estimator { return &fixedScore{score: f.score} }

// stubEvaluator scores fixedScore workflows with their own score.
type stubEvaluator struct {
	mu      sync.Mutex
	fitted  bool
	fits    int
	resets  int
	fitErr  error
	delay   time.Duration
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
}

func (e *stubEvaluator) Name() string { return "stub" }

func (e *stubEvaluator) Fit(dataset.Dataset) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fits++
	if e.fitErr != nil {
		return e.fitErr
	}
	e.fitted = true
	return nil
}

func (e *stubEvaluator) Reset() {
	e.mu.Lock()
	e.resets++
	e.mu.Unlock()
}

func (e *stubEvaluator) Evaluate(_ context.Context, est workflow.Estimator, _ workflow.Scorer) (float64, error) {
	e.mu.Lock()
	fitted := e.fitted
	e.mu.Unlock()
	if !fitted {
		return 0, evaluate.ErrNotFitted
	}
	return est.(*fixedScore).score, nil
}

func (e *stubEvaluator) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*evaluate.Result, error) {
	e.calls.Add(1)
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		seen := e.maxSeen.Load()
		if n <= seen || e.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := e.Evaluate(ctx, est, scorer)
	if err != nil {
		return nil, err
	}
	return &evaluate.Result{Score: s}, nil
}

// scoreCatalogue: pick(val{1..3}) scores the mean of its values, half(v) is
// v/2 and leaf is a fixed low score. bad never builds.
func scoreCatalogue(t *testing.T, withBad bool) *gp.Catalogue {
	t.Helper()

	c := gp.NewCatalogue()
	c.MustRegister(
		gp.Entry{
			Primitive: gp.Primitive{Name: "pick", Out: "out", Slots: []gp.TypeArity{{Type: "val", Arity: gp.Between(1, 3)}}},
			Build: func(_ gp.Params, children [][]any) (any, error) {
				total := 0.0
				for _, v := range children[0] {
					total += v.(float64)
				}
				return &fixedScore{score: total / float64(len(children[0]))}, nil
			},
		},
		gp.Entry{
			Primitive: gp.Primitive{Name: "half", Out: "val", Slots: []gp.TypeArity{{Type: "val", Arity: gp.Exactly(1)}}},
			Build: func(_ gp.Params, children [][]any) (any, error) {
				return children[0][0].(float64) / 2, nil
			},
		},
		gp.Entry{
			Primitive: gp.Primitive{Name: "num", Out: "val", Domain: gp.Domain{"v": {0.0, 1.0, 2.0, 3.0}}},
			Build: func(params gp.Params, _ [][]any) (any, error) {
				return params["v"].(float64), nil
			},
		},
	)
	if withBad {
		c.MustRegister(gp.Entry{
			Primitive: gp.Primitive{Name: "bad", Out: "out"},
			Build:     func(gp.Params, [][]any) (any, error) { return nil, errors.New("incompatible") },
		})
	} else {
		c.MustRegister(gp.Entry{
			Primitive: gp.Primitive{Name: "leaf", Out: "out", Domain: gp.Domain{"v": {0.0, 0.5}}},
			Build: func(params gp.Params, _ [][]any) (any, error) {
				return &fixedScore{score: params["v"].(float64)}, nil
			},
		})
	}
	return c
}

func testData() dataset.Dataset {
	return dataset.Dataset{X: [][]float64{{0}, {1}, {2}, {3}}, Y: []float64{0, 0, 1, 1}}
}

func testConfig(c *gp.Catalogue, ev evaluate.Evaluator) Config {
	return Config{
		Catalogue:      c,
		Evaluator:      ev,
		RootType:       "out",
		Limits:         gp.Limits{MaxHeight: 3, MaxNodes: 10, MaxArity: 3},
		PopulationSize: 12,
		Generations:    5,
		EliteCount:     1,
		HallOfFameSize: 4,
		CxPb:           0.5,
		MutPb:          0.5,
		MutArgsPb:      0.5,
		Workers:        3,
		Seed:           7,
	}
}

func TestNewSearchValidatesConfig(t *testing.T) {
	c := scoreCatalogue(t, false)
	ev := &stubEvaluator{}

	cases := map[string]func(*Config){
		"catalogue":       func(cfg *Config) { cfg.Catalogue = nil },
		"evaluator":       func(cfg *Config) { cfg.Evaluator = nil },
		"root type":       func(cfg *Config) { cfg.RootType = "" },
		"unknown root":    func(cfg *Config) { cfg.RootType = "nope" },
		"population":      func(cfg *Config) { cfg.PopulationSize = 0 },
		"generations":     func(cfg *Config) { cfg.Generations = -1 },
		"elite count":     func(cfg *Config) { cfg.EliteCount = 13 },
		"negative elites": func(cfg *Config) { cfg.EliteCount = -1 },
		"cx probability":  func(cfg *Config) { cfg.CxPb = 1.5 },
		"mut probability": func(cfg *Config) { cfg.MutPb = -0.1 },
		"limits":          func(cfg *Config) { cfg.Limits = gp.Limits{MaxHeight: 3} },
		"unknown mutator": func(cfg *Config) { cfg.MutationPolicy = []WeightedMutation{{Operator: "shuffle", Weight: 1}} },
		"negative weight": func(cfg *Config) { cfg.MutationPolicy = []WeightedMutation{{Operator: "subtree", Weight: -1}} },
		"zero weights":    func(cfg *Config) { cfg.MutationPolicy = []WeightedMutation{{Operator: "subtree", Weight: 0}} },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(c, ev)
			mutate(&cfg)
			_, err := NewSearch(cfg)
			assert.Error(t, err)
		})
	}

	_, err := NewSearch(testConfig(c, ev))
	require.NoError(t, err)
}

func TestRunTracksGenerations(t *testing.T) {
	ev := &stubEvaluator{}
	cfg := testConfig(scoreCatalogue(t, false), ev)
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), testData())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, ev.fits)
	assert.Equal(t, cfg.Generations+1, ev.resets)
	require.Len(t, res.Diagnostics, cfg.Generations+1)
	require.Len(t, res.BestByGeneration, cfg.Generations+1)
	assert.Len(t, res.FinalPopulation, cfg.PopulationSize)
	assert.Len(t, res.Lineage, cfg.PopulationSize*(cfg.Generations+1))

	evaluated := 0
	for i, diag := range res.Diagnostics {
		assert.Equal(t, i, diag.Generation)
		assert.Equal(t, cfg.PopulationSize, diag.ValidCount+diag.FailedCount)
		evaluated += diag.Evaluated
		if i > 0 {
			assert.GreaterOrEqual(t, res.BestByGeneration[i], res.BestByGeneration[i-1], "elitism keeps the best score")
		}
	}
	assert.Equal(t, int64(evaluated), ev.calls.Load(), "cached fitness is not re-evaluated")
	assert.Equal(t, cfg.PopulationSize, res.Diagnostics[0].Evaluated)

	require.True(t, res.Best.Fitness.Valid)
	assert.Equal(t, res.BestByGeneration[len(res.BestByGeneration)-1], res.Best.Fitness.Score)
	require.NotEmpty(t, res.HallOfFame)
	assert.LessOrEqual(t, len(res.HallOfFame), cfg.HallOfFameSize)
	assert.Equal(t, res.Best.Tree.String(), res.HallOfFame[0].Tree.String())
	for i := 1; i < len(res.HallOfFame); i++ {
		assert.False(t, res.HallOfFame[i].Fitness.Better(res.HallOfFame[i-1].Fitness))
	}

	for _, ind := range res.FinalPopulation {
		require.NoError(t, ind.Tree.Validate("out", cfg.Limits))
		assert.NotEmpty(t, ind.ID)
	}
}

func TestRunLogsHallOfFameSize(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(scoreCatalogue(t, false), &stubEvaluator{})
	cfg.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), testData())
	require.NoError(t, err)

	var finished map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "search finished" {
			finished = entry
		}
	}
	require.NotNil(t, finished)
	assert.Equal(t, float64(len(res.HallOfFame)), finished["hall_of_fame"])
	assert.Equal(t, res.RunID, finished["run_id"])
}

func TestRunWithoutVariationOnlyEvaluatesOnce(t *testing.T) {
	ev := &stubEvaluator{}
	cfg := testConfig(scoreCatalogue(t, false), ev)
	cfg.CxPb, cfg.MutPb = 0, 0
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), testData())
	require.NoError(t, err)

	assert.Equal(t, int64(cfg.PopulationSize), ev.calls.Load())
	for _, diag := range res.Diagnostics[1:] {
		assert.Zero(t, diag.Evaluated)
	}
	for _, rec := range res.Lineage {
		assert.Contains(t, []string{"seed", "elite", "clone"}, rec.Operation)
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	run := func() []string {
		s, err := NewSearch(testConfig(scoreCatalogue(t, false), &stubEvaluator{}))
		require.NoError(t, err)
		res, err := s.Run(context.Background(), testData())
		require.NoError(t, err)
		out := make([]string, len(res.FinalPopulation))
		for i, ind := range res.FinalPopulation {
			out[i] = ind.Tree.String()
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestRunCountsBuildFailures(t *testing.T) {
	c := gp.NewCatalogue()
	c.MustRegister(gp.Entry{
		Primitive: gp.Primitive{Name: "bad", Out: "out"},
		Build:     func(gp.Params, [][]any) (any, error) { return nil, errors.New("incompatible") },
	})
	ev := &stubEvaluator{}
	cfg := testConfig(c, ev)
	cfg.Generations = 1
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), testData())
	require.ErrorIs(t, err, ErrNoValidIndividual)
	assert.False(t, res.Best.Fitness.Valid)
	assert.Empty(t, res.HallOfFame)
	assert.Equal(t, cfg.PopulationSize, res.Diagnostics[0].FailedCount)
	assert.Zero(t, ev.calls.Load())
}

func TestRunMixedFailuresRankLast(t *testing.T) {
	ev := &stubEvaluator{}
	cfg := testConfig(scoreCatalogue(t, true), ev)
	cfg.Generations = 2
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	res, err := s.Run(context.Background(), testData())
	require.NoError(t, err)

	seenInvalid := false
	for _, ind := range res.FinalPopulation {
		if !ind.Fitness.Valid {
			seenInvalid = true
			continue
		}
		assert.False(t, seenInvalid, "valid individual ranked after an invalid one")
	}
}

func TestRunPropagatesEvaluatorFitError(t *testing.T) {
	ev := &stubEvaluator{fitErr: errors.New("no data")}
	s, err := NewSearch(testConfig(scoreCatalogue(t, false), ev))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), testData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data")
}

func TestRunHonoursCancellation(t *testing.T) {
	s, err := NewSearch(testConfig(scoreCatalogue(t, false), &stubEvaluator{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, testData())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunBoundsParallelScoring(t *testing.T) {
	ev := &stubEvaluator{delay: 5 * time.Millisecond}
	cfg := testConfig(scoreCatalogue(t, false), ev)
	cfg.Generations = 0
	cfg.Workers = 2
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	_, err = s.Run(context.Background(), testData())
	require.NoError(t, err)
	assert.LessOrEqual(t, ev.maxSeen.Load(), int64(2))
	assert.Equal(t, int64(cfg.PopulationSize), ev.calls.Load())
}

func TestRunWithRealEvaluator(t *testing.T) {
	ev, err := evaluate.New(evaluate.StrategyFixed, evaluate.Options{Seed: 1})
	require.NoError(t, err)

	c := gp.NewCatalogue()
	c.MustRegister(gp.Entry{
		Primitive: gp.Primitive{Name: "constant", Out: "out", Domain: gp.Domain{"label": {0.0, 1.0}}},
		Build: func(params gp.Params, _ [][]any) (any, error) {
			return &constantClass{label: params["label"].(float64)}, nil
		},
	})
	cfg := testConfig(c, ev)
	cfg.Generations = 1
	s, err := NewSearch(cfg)
	require.NoError(t, err)

	data := dataset.Dataset{
		X: [][]float64{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}, {8}, {9}, {10}, {11}},
		Y: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0},
	}
	res, err := s.Run(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "constant[label=1]", res.Best.Tree.String())
}

type constantClass struct {
	label float64
}

func (c *constantClass) Fit(context.Context, [][]float64, []float64) error { return nil }

func (c *constantClass) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i := range out {
		out[i] = c.label
	}
	return out, nil
}

func (c *constantClass) Clone() workflow.Estimator { return &constantClass{label: c.label} }

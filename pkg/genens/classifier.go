// Package genens evolves classification pipelines. Classifier searches the
// default grammar for the best pipeline and refits it on the full training
// data; Client adds CSV loading and run persistence on top.
package genens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"genens/internal/dataset"
	"genens/internal/evaluate"
	"genens/internal/evo"
	"genens/internal/gp"
	"genens/internal/primitives"
	"genens/internal/workflow"
)

var (
	ErrNotFitted = errors.New("classifier is not fitted")
	ErrConfig    = errors.New("invalid classifier configuration")
)

const (
	defaultPopulation  = 100
	defaultGenerations = 10
	defaultStrategy    = evaluate.StrategyCrossVal
)

// MutationWeight names a structural mutation ("node_swap", "subtree",
// "args") and its relative weight.
type MutationWeight struct {
	Operator string
	Weight   float64
}

// Options configure a Classifier. Zero values select the defaults.
type Options struct {
	// Strategy is the evaluation strategy, crossval by default.
	Strategy   string
	Scorer     string
	Timeout    time.Duration
	K          int
	TestSize   float64
	SampleSize float64
	PerGen     bool
	Stratify   bool
	// TestX and TestY are the held-out set of the train_test strategy.
	TestX [][]float64
	TestY []float64

	// ClassNames maps predicted class indices back to label names. Client
	// fills it from categorical CSV targets.
	ClassNames []string

	PopulationSize int
	Generations    int
	EliteCount     int
	HallOfFameSize int
	CxPb           float64
	MutPb          float64
	MutArgsPb      float64
	TournamentSize int
	// PoolSize restricts tournaments to the best ranks; zero samples the
	// whole population.
	PoolSize       int
	Selection      string
	Postprocessor  string
	MutationPolicy []MutationWeight
	Workers        int
	MaxHeight      int
	MaxNodes       int
	MaxArity       int
	Seed           int64
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = defaultStrategy
	}
	if o.PopulationSize <= 0 {
		o.PopulationSize = defaultPopulation
	}
	if o.Generations <= 0 {
		o.Generations = defaultGenerations
	}
	if o.EliteCount <= 0 {
		o.EliteCount = o.PopulationSize / 5
		if o.EliteCount < 1 {
			o.EliteCount = 1
		}
	}
	if o.CxPb == 0 {
		o.CxPb = evo.DefaultCxPb
	}
	if o.MutPb == 0 {
		o.MutPb = evo.DefaultMutPb
	}
	if o.MutArgsPb == 0 {
		o.MutArgsPb = evo.DefaultMutArgsPb
	}
	if o.Selection == "" {
		o.Selection = "tournament"
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = evo.DefaultLimits.MaxHeight
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = evo.DefaultLimits.MaxNodes
	}
	if o.MaxArity <= 0 {
		o.MaxArity = evo.DefaultLimits.MaxArity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Pipeline describes an evaluated pipeline.
type Pipeline struct {
	ID         string
	Notation   string
	Valid      bool
	Score      float64
	LogElapsed float64
}

func pipelineOf(ind gp.Individual) Pipeline {
	return Pipeline{
		ID:         ind.ID,
		Notation:   ind.Tree.String(),
		Valid:      ind.Fitness.Valid,
		Score:      ind.Fitness.Score,
		LogElapsed: ind.Fitness.LogElapsed,
	}
}

type Classifier struct {
	opts      Options
	catalogue *gp.Catalogue
	scorer    workflow.Scorer
	result    evo.RunResult
	model     workflow.Estimator
}

func NewClassifier(opts Options) *Classifier {
	return &Classifier{opts: opts.withDefaults()}
}

// Fit searches for the best pipeline on x and y and refits it on all rows.
func (c *Classifier) Fit(ctx context.Context, x [][]float64, y []float64) error {
	data, err := dataset.New(x, y)
	if err != nil {
		return err
	}
	scorer, err := workflow.LookupScorer(c.opts.Scorer)
	if err != nil {
		return err
	}
	selector, err := selectorFromName(c.opts.Selection, c.opts)
	if err != nil {
		return err
	}
	postprocessor, ok := evo.ResolvePostprocessor(c.opts.Postprocessor)
	if !ok {
		return fmt.Errorf("%w: unknown fitness postprocessor %q", ErrConfig, c.opts.Postprocessor)
	}
	catalogue, err := primitives.NewCatalogue(primitives.Options{Features: data.Features(), Seed: c.opts.Seed})
	if err != nil {
		return err
	}
	evaluator, err := c.newEvaluator()
	if err != nil {
		return err
	}

	policy := make([]evo.WeightedMutation, 0, len(c.opts.MutationPolicy))
	for _, item := range c.opts.MutationPolicy {
		policy = append(policy, evo.WeightedMutation{Operator: item.Operator, Weight: item.Weight})
	}
	search, err := evo.NewSearch(evo.Config{
		Catalogue:      catalogue,
		Evaluator:      evaluator,
		Scorer:         scorer,
		Selector:       selector,
		Postprocessor:  postprocessor,
		MutationPolicy: policy,
		RootType:       primitives.TypeOut,
		Limits:         gp.Limits{MaxHeight: c.opts.MaxHeight, MaxNodes: c.opts.MaxNodes, MaxArity: c.opts.MaxArity},
		PopulationSize: c.opts.PopulationSize,
		Generations:    c.opts.Generations,
		EliteCount:     c.opts.EliteCount,
		HallOfFameSize: c.opts.HallOfFameSize,
		CxPb:           c.opts.CxPb,
		MutPb:          c.opts.MutPb,
		MutArgsPb:      c.opts.MutArgsPb,
		TournamentSize: c.opts.TournamentSize,
		Workers:        c.opts.Workers,
		Seed:           c.opts.Seed,
		Logger:         c.opts.Logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	result, err := search.Run(ctx, data)
	if err != nil {
		return err
	}
	model, err := workflow.NewBuilder(catalogue).Build(result.Best.Tree)
	if err != nil {
		return fmt.Errorf("build best pipeline: %w", err)
	}
	if err := model.Fit(ctx, data.X, data.Y); err != nil {
		return fmt.Errorf("refit best pipeline %s: %w", result.Best.Tree, err)
	}

	c.catalogue = catalogue
	c.scorer = scorer
	c.result = result
	c.model = model
	return nil
}

func (c *Classifier) newEvaluator() (evaluate.Evaluator, error) {
	opts := evaluate.Options{
		Timeout:    c.opts.Timeout,
		K:          c.opts.K,
		TestSize:   c.opts.TestSize,
		SampleSize: c.opts.SampleSize,
		PerGen:     c.opts.PerGen,
		Stratify:   c.opts.Stratify,
		Seed:       c.opts.Seed,
		Logger:     c.opts.Logger,
	}
	if c.opts.Strategy == evaluate.StrategyTrainTest {
		test, err := dataset.New(c.opts.TestX, c.opts.TestY)
		if err != nil {
			return nil, fmt.Errorf("%w: held-out set: %w", ErrConfig, err)
		}
		opts.Test = test
	}
	return evaluate.New(c.opts.Strategy, opts)
}

func (c *Classifier) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}
	return c.model.Predict(ctx, x)
}

// PredictLabels predicts x and names each class through ClassNames. Without
// class names the numeric labels are formatted as is.
func (c *Classifier) PredictLabels(ctx context.Context, x [][]float64) ([]string, error) {
	pred, err := c.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	names := c.opts.ClassNames
	out := make([]string, len(pred))
	for i, p := range pred {
		if len(names) == 0 {
			out[i] = strconv.FormatFloat(p, 'g', -1, 64)
			continue
		}
		idx := int(p)
		if float64(idx) != p || idx < 0 || idx >= len(names) {
			return nil, fmt.Errorf("prediction %v of row %d is not a class index", p, i)
		}
		out[i] = names[idx]
	}
	return out, nil
}

// Classes returns the configured class names.
func (c *Classifier) Classes() []string {
	return append([]string(nil), c.opts.ClassNames...)
}

// Score evaluates the refitted pipeline on x and y with the configured
// scorer.
func (c *Classifier) Score(ctx context.Context, x [][]float64, y []float64) (float64, error) {
	if c.model == nil {
		return 0, ErrNotFitted
	}
	return c.scorer(ctx, c.model, x, y)
}

// Best returns the pipeline chosen by the last Fit.
func (c *Classifier) Best() (Pipeline, bool) {
	if c.model == nil {
		return Pipeline{}, false
	}
	return pipelineOf(c.result.Best), true
}

// HallOfFame lists the best distinct pipelines of the last Fit, best first.
func (c *Classifier) HallOfFame() []Pipeline {
	out := make([]Pipeline, 0, len(c.result.HallOfFame))
	for _, ind := range c.result.HallOfFame {
		out = append(out, pipelineOf(ind))
	}
	return out
}

// BestByGeneration is the best valid score of every evaluated generation.
func (c *Classifier) BestByGeneration() []float64 {
	return append([]float64(nil), c.result.BestByGeneration...)
}

func selectorFromName(name string, opts Options) (evo.Selector, error) {
	switch name {
	case "tournament":
		return evo.TournamentSelector{PoolSize: opts.PoolSize, TournamentSize: opts.TournamentSize}, nil
	case "elite":
		return evo.EliteSelector{Count: opts.EliteCount}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported selection strategy: %s", ErrConfig, name)
	}
}

// Package evo runs the population-level search: ramped initialization,
// parallel scoring, selection, variation, elitism and a hall of fame.
package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"genens/internal/dataset"
	"genens/internal/evaluate"
	"genens/internal/gp"
	"genens/internal/workflow"
)

// ErrNoValidIndividual is returned with the run result when no pipeline was
// ever scored successfully.
var ErrNoValidIndividual = errors.New("no pipeline was scored successfully")

var DefaultLimits = gp.Limits{MaxHeight: 4, MaxNodes: 30, MaxArity: 3}

const (
	DefaultCxPb           = 0.5
	DefaultMutPb          = 0.1
	DefaultMutArgsPb      = 0.3
	DefaultTournamentSize = 3
	DefaultHallOfFameSize = 10
)

type Config struct {
	Catalogue *gp.Catalogue
	Evaluator evaluate.Evaluator
	// Scorer defaults to accuracy.
	Scorer         workflow.Scorer
	Selector       Selector
	Postprocessor  FitnessPostprocessor
	MutationPolicy []WeightedMutation
	RootType       string
	Limits         gp.Limits
	PopulationSize int
	// Generations is the number of bred generations after the initial one.
	Generations    int
	EliteCount     int
	HallOfFameSize int
	CxPb           float64
	MutPb          float64
	// MutArgsPb is the per-hyperparameter resampling probability of
	// argument mutation.
	MutArgsPb      float64
	TournamentSize int
	Workers        int
	Seed           int64
	Logger         *slog.Logger
}

type RunResult struct {
	RunID            string
	Best             gp.Individual
	BestByGeneration []float64
	Diagnostics      []GenerationDiagnostics
	HallOfFame       []gp.Individual
	// FinalPopulation is the last evaluated generation, ranked.
	FinalPopulation []gp.Individual
	Lineage         []LineageRecord
}

type Search struct {
	cfg       Config
	rng       *rand.Rand
	generator *gp.Generator
	builder   *workflow.Builder
	crossover gp.Crossover
	mutations []weightedMutator
	args      gp.Mutator
}

func NewSearch(cfg Config) (*Search, error) {
	if cfg.Catalogue == nil {
		return nil, fmt.Errorf("catalogue is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.RootType == "" {
		return nil, fmt.Errorf("root type is required")
	}
	if cfg.Limits == (gp.Limits{}) {
		cfg.Limits = DefaultLimits
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Catalogue.Validate(cfg.RootType); err != nil {
		return nil, err
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations < 0 {
		return nil, fmt.Errorf("generations must be >= 0")
	}
	if cfg.EliteCount < 0 || cfg.EliteCount > cfg.PopulationSize {
		return nil, fmt.Errorf("elite count must be in [0, population size]")
	}
	for name, p := range map[string]float64{"crossover": cfg.CxPb, "mutation": cfg.MutPb, "argument mutation": cfg.MutArgsPb} {
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("%s probability must be in [0, 1], got %v", name, p)
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.HallOfFameSize <= 0 {
		cfg.HallOfFameSize = DefaultHallOfFameSize
	}
	if cfg.TournamentSize <= 0 {
		cfg.TournamentSize = DefaultTournamentSize
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: cfg.TournamentSize}
	}
	if cfg.Postprocessor == nil {
		cfg.Postprocessor = NoopFitnessPostprocessor{}
	}
	if len(cfg.MutationPolicy) == 0 {
		cfg.MutationPolicy = DefaultMutationPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	generator, err := gp.NewGenerator(cfg.Catalogue, cfg.Limits, rng)
	if err != nil {
		return nil, err
	}
	env := gp.OperatorEnv{
		Catalogue: cfg.Catalogue,
		Generator: generator,
		Limits:    cfg.Limits,
		RootType:  cfg.RootType,
		MutArgsPb: cfg.MutArgsPb,
		Rand:      rng,
	}
	mutations, err := resolvePolicy(cfg.MutationPolicy, env)
	if err != nil {
		return nil, err
	}
	args, err := gp.ResolveMutator("args", env)
	if err != nil {
		return nil, err
	}

	return &Search{
		cfg:       cfg,
		rng:       rng,
		generator: generator,
		builder:   workflow.NewBuilder(cfg.Catalogue),
		crossover: &gp.OnePointCrossover{Limits: cfg.Limits, RootType: cfg.RootType, Rand: rng},
		mutations: mutations,
		args:      args,
	}, nil
}

// Run fits the evaluator on data and evolves the population. When nothing
// could be scored the partial result is returned with ErrNoValidIndividual.
func (s *Search) Run(ctx context.Context, data dataset.Dataset) (RunResult, error) {
	runID := uuid.NewString()
	logger := s.cfg.Logger.With("run_id", runID)

	if err := s.cfg.Evaluator.Fit(data); err != nil {
		return RunResult{}, fmt.Errorf("fit evaluator: %w", err)
	}
	population, lineage, err := s.initialPopulation()
	if err != nil {
		return RunResult{}, err
	}

	hof := NewHallOfFame(s.cfg.HallOfFameSize)
	bestHistory := make([]float64, 0, s.cfg.Generations+1)
	diagnostics := make([]GenerationDiagnostics, 0, s.cfg.Generations+1)
	var ranked []gp.Individual

	for gen := 0; ; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}

		s.cfg.Evaluator.Reset()
		evaluated, err := s.evaluatePopulation(ctx, population)
		if err != nil {
			return RunResult{}, err
		}
		ranked = s.rank(population)
		hof.Update(ranked)

		diag := summarizeGeneration(ranked, gen, evaluated)
		diagnostics = append(diagnostics, diag)
		bestHistory = append(bestHistory, diag.BestScore)
		generationsTotal.Inc()
		if diag.ValidCount > 0 {
			bestScore.Set(diag.BestScore)
		}
		logger.Info("generation evaluated",
			"generation", gen,
			"best_score", diag.BestScore,
			"mean_score", diag.MeanScore,
			"valid", diag.ValidCount,
			"failed", diag.FailedCount,
			"evaluated", diag.Evaluated,
		)

		if gen == s.cfg.Generations {
			break
		}
		var records []LineageRecord
		population, records, err = s.nextGeneration(ctx, ranked, gen)
		if err != nil {
			return RunResult{}, err
		}
		lineage = append(lineage, records...)
	}

	result := RunResult{
		RunID:            runID,
		BestByGeneration: bestHistory,
		Diagnostics:      diagnostics,
		HallOfFame:       hof.Members(),
		FinalPopulation:  ranked,
		Lineage:          lineage,
	}
	best, ok := hof.Best()
	if !ok {
		result.Best = ranked[0].Clone()
		return result, ErrNoValidIndividual
	}
	result.Best = best
	logger.Info("search finished", "best_score", best.Fitness.Score, "best", best.Tree.String(), "hall_of_fame", hof.Len())
	return result, nil
}

func (s *Search) initialPopulation() ([]gp.Individual, []LineageRecord, error) {
	population := make([]gp.Individual, 0, s.cfg.PopulationSize)
	lineage := make([]LineageRecord, 0, s.cfg.PopulationSize)
	for i := 0; i < s.cfg.PopulationSize; i++ {
		tree, err := s.generator.GenerateRamped(s.cfg.RootType, i)
		if err != nil {
			return nil, nil, fmt.Errorf("initial population: %w", err)
		}
		ind := gp.Individual{ID: uuid.NewString(), Tree: tree}
		population = append(population, ind)
		lineage = append(lineage, LineageRecord{IndividualID: ind.ID, Generation: 0, Operation: "seed"})
	}
	return population, lineage, nil
}

// evaluatePopulation scores every individual without a cached fitness.
// Workers write only their own slot of population.
func (s *Search) evaluatePopulation(ctx context.Context, population []gp.Individual) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	evaluated := 0
	for i := range population {
		if population[i].Fitness.Evaluated {
			continue
		}
		evaluated++
		ind := &population[i]
		g.Go(func() error {
			fitness, err := s.score(gctx, ind.Tree)
			if err != nil {
				return err
			}
			ind.Fitness = fitness
			return nil
		})
	}
	return evaluated, g.Wait()
}

// score compiles and evaluates one tree. Build failures and failed
// evaluations yield an evaluated but invalid fitness; only evaluator setup
// errors and cancellation are returned.
func (s *Search) score(ctx context.Context, tree gp.Tree) (gp.Fitness, error) {
	failed := gp.Fitness{Evaluated: true}

	est, err := s.builder.Build(tree)
	if err != nil {
		s.cfg.Logger.Debug("workflow build failed", "tree", tree.String(), "error", err)
		individualsScored.WithLabelValues("failed").Inc()
		return failed, nil
	}
	res, err := s.cfg.Evaluator.Score(ctx, est, s.cfg.Scorer)
	if err != nil {
		return gp.Fitness{}, err
	}
	if res == nil {
		individualsScored.WithLabelValues("failed").Inc()
		return failed, nil
	}
	individualsScored.WithLabelValues("valid").Inc()
	return gp.Fitness{Valid: true, Evaluated: true, Score: res.Score, LogElapsed: res.LogElapsed}, nil
}

// rank orders population best-first by postprocessed fitness.
func (s *Search) rank(population []gp.Individual) []gp.Individual {
	processed := s.cfg.Postprocessor.Process(population)
	if len(processed) != len(population) {
		processed = NoopFitnessPostprocessor{}.Process(population)
	}
	order := make([]int, len(population))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return processed[order[a]].Better(processed[order[b]])
	})
	ranked := make([]gp.Individual, len(population))
	for i, idx := range order {
		ranked[i] = population[idx]
	}
	return ranked
}

type offspring struct {
	ind     gp.Individual
	parents []string
	ops     []string
}

func (o *offspring) apply(tree gp.Tree, op string) {
	o.ind.Tree = tree
	o.ind.Invalidate()
	o.ops = append(o.ops, op)
}

func (s *Search) nextGeneration(ctx context.Context, ranked []gp.Individual, generation int) ([]gp.Individual, []LineageRecord, error) {
	next := make([]gp.Individual, 0, s.cfg.PopulationSize)
	lineage := make([]LineageRecord, 0, s.cfg.PopulationSize)
	nextGeneration := generation + 1

	for i := 0; i < s.cfg.EliteCount; i++ {
		elite := ranked[i].Clone()
		next = append(next, elite)
		lineage = append(lineage, LineageRecord{
			IndividualID: elite.ID,
			ParentIDs:    []string{elite.ID},
			Generation:   nextGeneration,
			Operation:    "elite",
		})
	}

	children := make([]offspring, s.cfg.PopulationSize-len(next))
	for i := range children {
		parent, err := s.cfg.Selector.PickParent(s.rng, ranked)
		if err != nil {
			return nil, nil, err
		}
		children[i] = offspring{ind: parent.Clone(), parents: []string{parent.ID}}
	}

	for i := 1; i < len(children); i += 2 {
		if s.rng.Float64() >= s.cfg.CxPb {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		a, b := &children[i-1], &children[i]
		ta, tb, err := s.crossover.Cross(ctx, a.ind.Tree, b.ind.Tree)
		if err != nil {
			return nil, nil, err
		}
		both := []string{a.parents[0], b.parents[0]}
		if ta.Root != a.ind.Tree.Root {
			a.apply(ta, s.crossover.Name())
			a.parents = append([]string(nil), both...)
		}
		if tb.Root != b.ind.Tree.Root {
			b.apply(tb, s.crossover.Name())
			b.parents = append([]string(nil), both...)
		}
	}

	for i := range children {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		child := &children[i]
		if s.rng.Float64() < s.cfg.MutPb {
			if err := s.mutate(ctx, child, s.chooseMutation()); err != nil {
				return nil, nil, err
			}
		}
		if s.rng.Float64() < s.cfg.MutPb {
			if err := s.mutate(ctx, child, s.args); err != nil {
				return nil, nil, err
			}
		}

		child.ind.ID = uuid.NewString()
		operation := "clone"
		if len(child.ops) > 0 {
			operation = strings.Join(child.ops, "+")
		}
		next = append(next, child.ind)
		lineage = append(lineage, LineageRecord{
			IndividualID: child.ind.ID,
			ParentIDs:    child.parents,
			Generation:   nextGeneration,
			Operation:    operation,
		})
	}
	return next, lineage, nil
}

// mutate applies m to child. A mutation that cannot produce a valid tree
// leaves the child unchanged.
func (s *Search) mutate(ctx context.Context, child *offspring, m gp.Mutator) error {
	mutated, changed, err := m.Mutate(ctx, child.ind.Tree)
	if err != nil {
		if errors.Is(err, gp.ErrGeneration) || errors.Is(err, gp.ErrInvalidTree) {
			s.cfg.Logger.Debug("mutation skipped", "operator", m.Name(), "error", err)
			return nil
		}
		return fmt.Errorf("%s mutation: %w", m.Name(), err)
	}
	if changed {
		child.apply(mutated, m.Name())
	}
	return nil
}

func (s *Search) chooseMutation() gp.Mutator {
	total := 0.0
	for _, item := range s.mutations {
		total += item.weight
	}
	pick := s.rng.Float64() * total
	acc := 0.0
	for _, item := range s.mutations {
		acc += item.weight
		if pick <= acc && item.weight > 0 {
			return item.mutator
		}
	}
	return s.mutations[len(s.mutations)-1].mutator
}

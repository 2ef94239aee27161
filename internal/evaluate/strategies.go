package evaluate

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"genens/internal/dataset"
	"genens/internal/workflow"
)

// lockedRand serializes draws from one seeded source.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) split(d dataset.Dataset, testSize float64, stratify bool) (dataset.Dataset, dataset.Dataset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return dataset.TrainTestSplit(d, l.rng, testSize, stratify)
}

func prepare(opts Options) (Options, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// CrossVal scores the mean over stratified, unshuffled folds of the fitted
// data. K=1 trains and scores on the full data.
type CrossVal struct {
	runner
	K int

	mu     sync.RWMutex
	data   dataset.Dataset
	folds  []dataset.Fold
	fitted bool
}

func NewCrossVal(opts Options) (*CrossVal, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	return &CrossVal{runner: newRunner(StrategyCrossVal, opts), K: opts.K}, nil
}

func (e *CrossVal) String() string {
	return fmt.Sprintf("CrossVal(k=%d)", e.K)
}

func (e *CrossVal) Fit(d dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	folds, err := dataset.StratifiedKFold(d, e.K)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data, e.folds, e.fitted = d, folds, true
	return nil
}

func (e *CrossVal) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	e.mu.RLock()
	d, folds, fitted := e.data, e.folds, e.fitted
	e.mu.RUnlock()
	if !fitted {
		return 0, ErrNotFitted
	}
	return crossValidate(ctx, est, scorer, d, folds)
}

func (e *CrossVal) Reset() {}

func (e *CrossVal) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

// FixedSplit splits the fitted data once and reuses the split for every
// evaluation.
type FixedSplit struct {
	runner
	TestSize float64
	Stratify bool

	rng    *lockedRand
	mu     sync.RWMutex
	train  dataset.Dataset
	test   dataset.Dataset
	fitted bool
}

func NewFixedSplit(opts Options) (*FixedSplit, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	return &FixedSplit{
		runner:   newRunner(StrategyFixed, opts),
		TestSize: opts.TestSize,
		Stratify: opts.Stratify,
		rng:      newLockedRand(opts.Seed),
	}, nil
}

func (e *FixedSplit) String() string {
	return fmt.Sprintf("FixedSplit(test_size=%v)", e.TestSize)
}

func (e *FixedSplit) Fit(d dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	train, test, err := e.rng.split(d, e.TestSize, e.Stratify)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.train, e.test, e.fitted = train, test, true
	return nil
}

func (e *FixedSplit) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	e.mu.RLock()
	train, test, fitted := e.train, e.test, e.fitted
	e.mu.RUnlock()
	if !fitted {
		return 0, ErrNotFitted
	}
	return trainAndScore(ctx, est, scorer, train, test)
}

func (e *FixedSplit) Reset() {}

func (e *FixedSplit) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

// RandomSplit draws a fresh split of the fitted data on every evaluation
// from a source seeded at construction.
type RandomSplit struct {
	runner
	TestSize float64
	Stratify bool

	rng    *lockedRand
	mu     sync.RWMutex
	data   dataset.Dataset
	fitted bool
}

func NewRandomSplit(opts Options) (*RandomSplit, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	return &RandomSplit{
		runner:   newRunner(StrategyPerIndividual, opts),
		TestSize: opts.TestSize,
		Stratify: opts.Stratify,
		rng:      newLockedRand(opts.Seed),
	}, nil
}

func (e *RandomSplit) String() string {
	return fmt.Sprintf("RandomSplit(test_size=%v)", e.TestSize)
}

func (e *RandomSplit) Fit(d dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data, e.fitted = d, true
	return nil
}

func (e *RandomSplit) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	e.mu.RLock()
	d, fitted := e.data, e.fitted
	e.mu.RUnlock()
	if !fitted {
		return 0, ErrNotFitted
	}
	train, test, err := e.rng.split(d, e.TestSize, e.Stratify)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	return trainAndScore(ctx, est, scorer, train, test)
}

func (e *RandomSplit) Reset() {}

func (e *RandomSplit) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

// TrainTest trains on the fitted data and scores on a held-out set given at
// construction.
type TrainTest struct {
	runner

	test   dataset.Dataset
	mu     sync.RWMutex
	train  dataset.Dataset
	fitted bool
}

func NewTrainTest(opts Options) (*TrainTest, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	if err := opts.Test.Validate(); err != nil {
		return nil, fmt.Errorf("%w: held-out set: %v", ErrConfig, err)
	}
	return &TrainTest{runner: newRunner(StrategyTrainTest, opts), test: opts.Test}, nil
}

func (e *TrainTest) String() string {
	return fmt.Sprintf("TrainTest(test_rows=%d)", e.test.Len())
}

func (e *TrainTest) Fit(d dataset.Dataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Features() != e.test.Features() {
		return fmt.Errorf("%w: training data has %d features, held-out set %d", dataset.ErrShape, d.Features(), e.test.Features())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.train, e.fitted = d, true
	return nil
}

func (e *TrainTest) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	e.mu.RLock()
	train, fitted := e.train, e.fitted
	e.mu.RUnlock()
	if !fitted {
		return 0, ErrNotFitted
	}
	return trainAndScore(ctx, est, scorer, train, e.test)
}

func (e *TrainTest) Reset() {}

func (e *TrainTest) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

// sampled holds the stratified subsample shared by the sampling strategies.
// With perGen the sample changes only on Fit and Reset; otherwise every
// evaluation draws its own sample into locals.
type sampled struct {
	perGen  bool
	sampler *dataset.Sampler

	mu     sync.RWMutex
	sample dataset.Dataset
	rows   []int
	fitted bool
}

func newSampled(opts Options) (*sampled, error) {
	s, err := dataset.NewSampler(opts.SampleSize, true, rand.New(rand.NewSource(opts.Seed)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &sampled{perGen: opts.PerGen, sampler: s}, nil
}

func (s *sampled) fit(d dataset.Dataset) error {
	if err := s.sampler.Fit(d); err != nil {
		return err
	}
	sample, rows, err := s.sampler.Sample()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample, s.rows, s.fitted = sample, rows, true
	return nil
}

func (s *sampled) reset() error {
	s.mu.RLock()
	fitted := s.fitted
	s.mu.RUnlock()
	if !s.perGen || !fitted {
		return nil
	}
	sample, rows, err := s.sampler.Sample()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample, s.rows = sample, rows
	return nil
}

// current returns the sample an evaluation should use.
func (s *sampled) current() (dataset.Dataset, error) {
	s.mu.RLock()
	sample, fitted := s.sample, s.fitted
	s.mu.RUnlock()
	if !fitted {
		return dataset.Dataset{}, ErrNotFitted
	}
	if s.perGen {
		return sample, nil
	}
	fresh, _, err := s.sampler.Sample()
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	return fresh, nil
}

// SampleRows returns the row indices of the current per-generation sample.
func (s *sampled) SampleRows() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.rows...)
}

// SampleCrossVal cross-validates on a stratified subsample of the fitted
// data.
type SampleCrossVal struct {
	runner
	*sampled
	K int
}

func NewSampleCrossVal(opts Options) (*SampleCrossVal, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	s, err := newSampled(opts)
	if err != nil {
		return nil, err
	}
	return &SampleCrossVal{runner: newRunner(StrategySampleCrossVal, opts), sampled: s, K: opts.K}, nil
}

func (e *SampleCrossVal) String() string {
	return fmt.Sprintf("SampleCrossVal(k=%d, sample_size=%v, per_gen=%t)", e.K, e.sampler.SampleSize, e.perGen)
}

func (e *SampleCrossVal) Fit(d dataset.Dataset) error {
	if err := e.fit(d); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.sample.Len() < e.K {
		return fmt.Errorf("%w: sample of %d rows cannot be split into %d folds", dataset.ErrFoldCount, e.sample.Len(), e.K)
	}
	return nil
}

func (e *SampleCrossVal) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	sample, err := e.current()
	if err != nil {
		return 0, err
	}
	folds, err := dataset.StratifiedKFold(sample, e.K)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	return crossValidate(ctx, est, scorer, sample, folds)
}

func (e *SampleCrossVal) Reset() {
	if err := e.reset(); err != nil {
		e.logger.Warn("resample failed", "strategy", e.strategy, "error", err)
	}
}

func (e *SampleCrossVal) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

// SampleTrainTest splits a stratified subsample of the fitted data into train
// and test rows. With per-generation sampling the split is redrawn together
// with the sample.
type SampleTrainTest struct {
	runner
	*sampled
	TestSize float64
	Stratify bool

	rng       *lockedRand
	splitMu   sync.RWMutex
	train     dataset.Dataset
	test      dataset.Dataset
	haveSplit bool
}

func NewSampleTrainTest(opts Options) (*SampleTrainTest, error) {
	opts, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	s, err := newSampled(opts)
	if err != nil {
		return nil, err
	}
	return &SampleTrainTest{
		runner:   newRunner(StrategySampleTrainTest, opts),
		sampled:  s,
		TestSize: opts.TestSize,
		Stratify: opts.Stratify,
		rng:      newLockedRand(opts.Seed + 1),
	}, nil
}

func (e *SampleTrainTest) String() string {
	return fmt.Sprintf("SampleTrainTest(test_size=%v, sample_size=%v, per_gen=%t)", e.TestSize, e.sampler.SampleSize, e.perGen)
}

func (e *SampleTrainTest) Fit(d dataset.Dataset) error {
	if err := e.fit(d); err != nil {
		return err
	}
	return e.resplit()
}

func (e *SampleTrainTest) resplit() error {
	if !e.perGen {
		return nil
	}
	e.mu.RLock()
	sample := e.sample
	e.mu.RUnlock()
	train, test, err := e.rng.split(sample, e.TestSize, e.Stratify)
	if err != nil {
		return err
	}
	e.splitMu.Lock()
	defer e.splitMu.Unlock()
	e.train, e.test, e.haveSplit = train, test, true
	return nil
}

func (e *SampleTrainTest) Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error) {
	sample, err := e.current()
	if err != nil {
		return 0, err
	}
	if e.perGen {
		e.splitMu.RLock()
		train, test, ok := e.train, e.test, e.haveSplit
		e.splitMu.RUnlock()
		if !ok {
			return 0, ErrNotFitted
		}
		return trainAndScore(ctx, est, scorer, train, test)
	}
	train, test, err := e.rng.split(sample, e.TestSize, e.Stratify)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
	}
	return trainAndScore(ctx, est, scorer, train, test)
}

func (e *SampleTrainTest) Reset() {
	if err := e.reset(); err != nil {
		e.logger.Warn("resample failed", "strategy", e.strategy, "error", err)
		return
	}
	if err := e.resplit(); err != nil {
		e.logger.Warn("resplit failed", "strategy", e.strategy, "error", err)
	}
}

func (e *SampleTrainTest) Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error) {
	return e.score(ctx, func(ctx context.Context) (float64, error) { return e.Evaluate(ctx, est, scorer) })
}

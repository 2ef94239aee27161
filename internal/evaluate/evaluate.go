// Package evaluate scores compiled workflows against data. Every strategy
// shares one contract: Fit records the data, Evaluate trains and scores a
// private clone of a workflow, Reset refreshes per-generation samples and
// Score wraps Evaluate with a wall-clock budget and elapsed-time measurement.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"genens/internal/dataset"
	"genens/internal/workflow"
)

var (
	ErrNotFitted        = errors.New("evaluator is not fitted with training data")
	ErrEvaluationFailed = errors.New("evaluation failed")
	ErrUnknownStrategy  = errors.New("unknown evaluation strategy")
	ErrConfig           = errors.New("invalid evaluator configuration")
)

const (
	DefaultK          = 7
	DefaultTestSize   = 0.25
	DefaultSampleSize = 0.20
)

// Result is a successful score. LogElapsed is log(seconds + machine epsilon).
type Result struct {
	Score      float64
	LogElapsed float64
}

type Evaluator interface {
	Name() string
	Fit(d dataset.Dataset) error
	// Evaluate returns ErrNotFitted before Fit. Workflow failures, including
	// panics, are returned wrapped in ErrEvaluationFailed.
	Evaluate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (float64, error)
	// Reset is called once per generation before scoring starts.
	Reset()
	// Score returns a nil Result when the workflow fails or exceeds the
	// timeout. The only errors are ErrNotFitted and cancellation of ctx.
	Score(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer) (*Result, error)
}

type Options struct {
	// Timeout bounds every Score call. Zero disables the bound.
	Timeout time.Duration
	// K is the fold count of cross-validating strategies.
	K int
	// TestSize is the held-out fraction of split strategies.
	TestSize float64
	// SampleSize is the fraction of the fitted data kept by sampling
	// strategies.
	SampleSize float64
	// PerGen redraws samples on Reset instead of on every evaluation.
	PerGen bool
	// Stratify keeps class proportions in train/test splits. Samples are
	// always stratified.
	Stratify bool
	Seed     int64
	// Test is the held-out set of the train_test strategy.
	Test   dataset.Dataset
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.K == 0 {
		o.K = DefaultK
	}
	if o.TestSize == 0 {
		o.TestSize = DefaultTestSize
	}
	if o.SampleSize == 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if o.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s must not be negative", ErrConfig, o.Timeout)
	}
	if o.K < 1 {
		return fmt.Errorf("%w: k=%d must be >= 1", ErrConfig, o.K)
	}
	if o.TestSize <= 0 || o.TestSize >= 1 {
		return fmt.Errorf("%w: test size %v must be in (0, 1)", ErrConfig, o.TestSize)
	}
	if o.SampleSize <= 0 || o.SampleSize >= 1 {
		return fmt.Errorf("%w: sample size %v must be in (0, 1)", ErrConfig, o.SampleSize)
	}
	return nil
}

type factory func(Options) (Evaluator, error)

func wrap[E Evaluator](newFn func(Options) (E, error)) factory {
	return func(o Options) (Evaluator, error) {
		e, err := newFn(o)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

var strategies = map[string]factory{
	StrategyCrossVal:        wrap(NewCrossVal),
	StrategyFixed:           wrap(NewFixedSplit),
	StrategyPerIndividual:   wrap(NewRandomSplit),
	StrategyTrainTest:       wrap(NewTrainTest),
	StrategySampleCrossVal:  wrap(NewSampleCrossVal),
	StrategySampleTrainTest: wrap(NewSampleTrainTest),
}

const (
	StrategyCrossVal        = "crossval"
	StrategyFixed           = "fixed"
	StrategyPerIndividual   = "per_ind"
	StrategyTrainTest       = "train_test"
	StrategySampleCrossVal  = "sample_crossval"
	StrategySampleTrainTest = "sample_train_test"
)

// New builds the strategy registered under name.
func New(name string, opts Options) (Evaluator, error) {
	f, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return f(opts)
}

func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

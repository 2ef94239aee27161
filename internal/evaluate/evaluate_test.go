package evaluate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genens/internal/dataset"
	"genens/internal/workflow"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// indexed builds n rows whose only feature is the row index, alternating
// between two classes.
func indexed(n int) dataset.Dataset {
	d := dataset.Dataset{}
	for i := 0; i < n; i++ {
		d.X = append(d.X, []float64{float64(i)})
		d.Y = append(d.Y, float64(i%2))
	}
	return d
}

// constant predicts class 0 for every row.
type constant struct{}

func (constant) Fit(context.Context, [][]float64, []float64) error { return nil }
func (constant) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}
func (c constant) Clone() workflow.Estimator { return c }

type failing struct{ panics bool }

func (f failing) Fit(context.Context, [][]float64, []float64) error {
	if f.panics {
		panic("singular matrix")
	}
	return errors.New("solver did not converge")
}
func (failing) Predict(context.Context, [][]float64) ([]float64, error) { return nil, nil }
func (f failing) Clone() workflow.Estimator                             { return f }

// sleeper ignores cancellation on purpose.
type sleeper struct{ d time.Duration }

func (s sleeper) Fit(context.Context, [][]float64, []float64) error {
	time.Sleep(s.d)
	return nil
}
func (sleeper) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}
func (s sleeper) Clone() workflow.Estimator { return s }

// waiter blocks in Fit until its context ends and reports why.
type waiter struct{}

func (waiter) Fit(ctx context.Context, _ [][]float64, _ []float64) error {
	<-ctx.Done()
	return ctx.Err()
}
func (waiter) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}
func (w waiter) Clone() workflow.Estimator { return w }

// recorder collects the training rows seen by every clone.
type recorder struct {
	mu   sync.Mutex
	rows map[int]struct{}
}

func (r *recorder) take() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.rows))
	for row := range r.rows {
		out = append(out, row)
	}
	sort.Ints(out)
	r.rows = nil
	return out
}

type recording struct{ rec *recorder }

func (e recording) Fit(_ context.Context, x [][]float64, _ []float64) error {
	e.rec.mu.Lock()
	defer e.rec.mu.Unlock()
	if e.rec.rows == nil {
		e.rec.rows = map[int]struct{}{}
	}
	for _, row := range x {
		e.rec.rows[int(row[0])] = struct{}{}
	}
	return nil
}
func (recording) Predict(_ context.Context, x [][]float64) ([]float64, error) {
	return make([]float64, len(x)), nil
}
func (e recording) Clone() workflow.Estimator { return e }

func newEvaluator(t *testing.T, name string, opts Options) Evaluator {
	t.Helper()
	opts.Logger = quietLogger
	if name == StrategyTrainTest && opts.Test.Len() == 0 {
		opts.Test = indexed(10)
	}
	ev, err := New(name, opts)
	require.NoError(t, err)
	return ev
}

func TestEvaluateBeforeFitFailsForEveryStrategy(t *testing.T) {
	assert.Len(t, Strategies(), 6)
	for _, name := range Strategies() {
		ev := newEvaluator(t, name, Options{K: 2})
		assert.Equal(t, name, ev.Name())

		_, err := ev.Evaluate(context.Background(), constant{}, nil)
		assert.ErrorIs(t, err, ErrNotFitted, name)

		res, err := ev.Score(context.Background(), constant{}, nil)
		assert.ErrorIs(t, err, ErrNotFitted, name)
		assert.Nil(t, res, name)

		ev.Reset()
		_, err = ev.Evaluate(context.Background(), constant{}, nil)
		assert.ErrorIs(t, err, ErrNotFitted, name)
	}
}

func TestEveryStrategyScoresAfterFit(t *testing.T) {
	for _, name := range Strategies() {
		ev := newEvaluator(t, name, Options{K: 2, Seed: 3, PerGen: true, Stratify: true})
		require.NoError(t, ev.Fit(indexed(100)), name)
		ev.Reset()

		res, err := ev.Score(context.Background(), constant{}, nil)
		require.NoError(t, err, name)
		require.NotNil(t, res, name)
		assert.InDelta(t, 0.5, res.Score, 0.15, name)
	}
}

func TestCrossValReturnsMeanOfFoldScores(t *testing.T) {
	d := indexed(50)
	ev, err := NewCrossVal(Options{K: 5, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(d))

	// The score of a fold is its first test row index, fixed per fold.
	firstRow := func(_ context.Context, _ workflow.Estimator, x [][]float64, _ []float64) (float64, error) {
		return x[0][0], nil
	}
	folds, err := dataset.StratifiedKFold(d, 5)
	require.NoError(t, err)
	require.Len(t, folds, 5)
	var want float64
	for _, f := range folds {
		want += float64(f.Test[0])
	}
	want /= 5

	got, err := ev.Evaluate(context.Background(), constant{}, firstRow)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)
}

func TestCrossValSingleFoldScoresFullData(t *testing.T) {
	ev, err := NewCrossVal(Options{K: 1, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(12)))

	rows := func(_ context.Context, _ workflow.Estimator, x [][]float64, _ []float64) (float64, error) {
		return float64(len(x)), nil
	}
	got, err := ev.Evaluate(context.Background(), constant{}, rows)
	require.NoError(t, err)
	assert.Equal(t, 12.0, got)

	_, err = NewCrossVal(Options{K: -1})
	assert.ErrorIs(t, err, ErrConfig)
	tooMany, err := NewCrossVal(Options{K: 20})
	require.NoError(t, err)
	assert.ErrorIs(t, tooMany.Fit(indexed(10)), dataset.ErrFoldCount)
}

func TestScoreTimesOut(t *testing.T) {
	ev, err := NewFixedSplit(Options{Timeout: time.Second, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))

	start := time.Now()
	res, err := ev.Score(context.Background(), sleeper{d: 5 * time.Second}, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Less(t, time.Since(start), 3*time.Second)

	// The evaluator stays usable after abandoning a run.
	res, err = ev.Score(context.Background(), constant{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestScoreCountsCancelledWorkflowsAsTimeouts(t *testing.T) {
	ev, err := NewFixedSplit(Options{Timeout: 50 * time.Millisecond, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))

	timeouts := evaluationTotal.WithLabelValues(StrategyFixed, outcomeTimeout)
	failures := evaluationTotal.WithLabelValues(StrategyFixed, outcomeFailed)
	timeoutsBefore := testutil.ToFloat64(timeouts)
	failuresBefore := testutil.ToFloat64(failures)

	for i := 0; i < 5; i++ {
		res, err := ev.Score(context.Background(), waiter{}, nil)
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	assert.Equal(t, timeoutsBefore+5, testutil.ToFloat64(timeouts))
	assert.Equal(t, failuresBefore, testutil.ToFloat64(failures))

	res, err := ev.Score(context.Background(), failing{}, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(failures))
	assert.Equal(t, timeoutsBefore+5, testutil.ToFloat64(timeouts))
}

func TestScoreReportsLogElapsed(t *testing.T) {
	ev, err := NewFixedSplit(Options{Timeout: time.Second, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	ev.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(10 * time.Millisecond)
	}

	res, err := ev.Score(context.Background(), sleeper{d: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, math.Log(0.01+epsilon), res.LogElapsed, 1e-12)
	assert.False(t, math.IsNaN(res.Score))
}

func TestScoreMeasuresWallClock(t *testing.T) {
	ev, err := NewFixedSplit(Options{Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))

	res, err := ev.Score(context.Background(), sleeper{d: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.GreaterOrEqual(t, res.LogElapsed, math.Log(0.01))
	assert.Less(t, res.LogElapsed, math.Log(2))
}

func TestWorkflowFailuresBecomeNilResults(t *testing.T) {
	for _, est := range []workflow.Estimator{failing{}, failing{panics: true}} {
		ev, err := NewCrossVal(Options{K: 3, Logger: quietLogger})
		require.NoError(t, err)
		require.NoError(t, ev.Fit(indexed(30)))

		_, err = ev.Evaluate(context.Background(), est, nil)
		assert.ErrorIs(t, err, ErrEvaluationFailed)

		res, err := ev.Score(context.Background(), est, nil)
		assert.NoError(t, err)
		assert.Nil(t, res)
	}

	ev, err := NewFixedSplit(Options{Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))
	nan := func(context.Context, workflow.Estimator, [][]float64, []float64) (float64, error) {
		return math.NaN(), nil
	}
	res, err := ev.Score(context.Background(), constant{}, nan)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestScoreReturnsCallerCancellation(t *testing.T) {
	ev, err := NewFixedSplit(Options{Timeout: time.Minute, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(20)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ev.Score(ctx, sleeper{d: 200 * time.Millisecond}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestFixedSplitReusesRowsAndRandomSplitRedraws(t *testing.T) {
	ctx := context.Background()
	d := indexed(100)

	fixed, err := NewFixedSplit(Options{Seed: 5, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, fixed.Fit(d))
	rec := &recorder{}
	_, err = fixed.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	first := rec.take()
	_, err = fixed.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, rec.take())
	assert.Len(t, first, 75)

	random, err := NewRandomSplit(Options{Seed: 5, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, random.Fit(d))
	_, err = random.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	first = rec.take()
	_, err = random.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, rec.take())
}

func TestTrainTestScoresHeldOutSet(t *testing.T) {
	test := dataset.Dataset{X: [][]float64{{1}, {2}, {3}, {4}}, Y: []float64{0, 0, 0, 1}}
	ev := newEvaluator(t, StrategyTrainTest, Options{Test: test})
	assert.Error(t, ev.Fit(dataset.Dataset{X: [][]float64{{1, 2}}, Y: []float64{0}}))
	require.NoError(t, ev.Fit(indexed(10)))

	got, err := ev.Evaluate(context.Background(), constant{}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-12)

	_, err = NewTrainTest(Options{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestSampleCrossValPerGenerationKeepsSampleUntilReset(t *testing.T) {
	ctx := context.Background()
	ev, err := NewSampleCrossVal(Options{K: 5, SampleSize: 0.2, PerGen: true, Seed: 11, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(200)))

	rows := ev.SampleRows()
	require.Len(t, rows, 40)

	rec := &recorder{}
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	first := rec.take()
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	second := rec.take()
	assert.Equal(t, first, second)
	assert.Equal(t, rows, first)

	ev.Reset()
	assert.NotEqual(t, rows, ev.SampleRows())
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, rec.take())
}

func TestSampleCrossValPerIndividualRedrawsEveryEvaluation(t *testing.T) {
	ctx := context.Background()
	ev, err := NewSampleCrossVal(Options{K: 3, SampleSize: 0.2, Seed: 11, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(200)))

	rec := &recorder{}
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	first := rec.take()
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, rec.take())
}

func TestSampleTrainTestPerGeneration(t *testing.T) {
	ctx := context.Background()
	ev, err := NewSampleTrainTest(Options{SampleSize: 0.2, TestSize: 0.25, PerGen: true, Seed: 2, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(200)))

	rec := &recorder{}
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	first := rec.take()
	assert.Len(t, first, 30)
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, rec.take())

	ev.Reset()
	_, err = ev.Evaluate(ctx, recording{rec}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, rec.take())
}

func TestConcurrentScoresShareEvaluator(t *testing.T) {
	ev, err := NewSampleCrossVal(Options{K: 3, Seed: 1, Logger: quietLogger})
	require.NoError(t, err)
	require.NoError(t, ev.Fit(indexed(300)))

	var wg sync.WaitGroup
	results := make([]*Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := ev.Score(context.Background(), constant{}, nil)
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		assert.NotNil(t, res)
	}
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	_, err := New("holdout", Options{})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	_, err = New(StrategyFixed, Options{TestSize: 1.5})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = New(StrategySampleCrossVal, Options{SampleSize: -0.1})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = New(StrategyCrossVal, Options{Timeout: -time.Second})
	assert.ErrorIs(t, err, ErrConfig)

	ev, err := New(StrategyCrossVal, Options{})
	require.NoError(t, err)
	assert.Equal(t, "CrossVal(k=7)", ev.(*CrossVal).String())
}

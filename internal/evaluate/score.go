package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"genens/internal/dataset"
	"genens/internal/workflow"
)

// epsilon is the float64 machine epsilon.
var epsilon = math.Nextafter(1, 2) - 1

// LogElapsed is the elapsed-time transform used in results.
func LogElapsed(d time.Duration) float64 {
	return math.Log(d.Seconds() + epsilon)
}

// runner carries the Score behaviour shared by every strategy.
type runner struct {
	strategy string
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func newRunner(strategy string, opts Options) runner {
	return runner{strategy: strategy, timeout: opts.Timeout, logger: opts.Logger, now: time.Now}
}

func (r runner) Name() string {
	return r.strategy
}

type outcome struct {
	score float64
	err   error
}

// score runs evaluate in its own goroutine. On timeout the goroutine is
// abandoned: its context is cancelled and its result lands in a buffered
// channel nobody reads.
func (r runner) score(ctx context.Context, evaluate func(context.Context) (float64, error)) (*Result, error) {
	runCtx := ctx
	cancel := func() {}
	if r.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	start := r.now()
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", ErrEvaluationFailed, rec)}
			}
		}()
		s, err := evaluate(runCtx)
		done <- outcome{score: s, err: err}
	}()

	select {
	case out := <-done:
		elapsed := r.now().Sub(start)
		if errors.Is(out.err, ErrNotFitted) {
			return nil, out.err
		}
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Workflows that honour cancellation usually report the deadline
			// before runCtx.Done is selected.
			if runCtx.Err() != nil && errors.Is(out.err, context.DeadlineExceeded) {
				r.timedOut()
				return nil, nil
			}
			evaluationTotal.WithLabelValues(r.strategy, outcomeFailed).Inc()
			r.logger.Debug("workflow evaluation failed", "strategy", r.strategy, "error", out.err)
			return nil, nil
		}
		evaluationTotal.WithLabelValues(r.strategy, outcomeOK).Inc()
		evaluationDuration.WithLabelValues(r.strategy).Observe(elapsed.Seconds())
		return &Result{Score: out.score, LogElapsed: LogElapsed(elapsed)}, nil
	case <-runCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.timedOut()
		return nil, nil
	}
}

func (r runner) timedOut() {
	evaluationTotal.WithLabelValues(r.strategy, outcomeTimeout).Inc()
	r.logger.Debug("workflow evaluation timed out", "strategy", r.strategy, "timeout", r.timeout)
}

// trainAndScore fits a private clone of est and scores it on the test rows.
func trainAndScore(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer, train, test dataset.Dataset) (score float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			score, err = 0, fmt.Errorf("%w: panic: %v", ErrEvaluationFailed, rec)
		}
	}()
	if scorer == nil {
		scorer = workflow.Accuracy
	}
	model := est.Clone()
	if err := model.Fit(ctx, train.X, train.Y); err != nil {
		return 0, fmt.Errorf("%w: fit: %w", ErrEvaluationFailed, err)
	}
	score, err = scorer(ctx, model, test.X, test.Y)
	if err != nil {
		return 0, fmt.Errorf("%w: score: %w", ErrEvaluationFailed, err)
	}
	if math.IsNaN(score) {
		return 0, fmt.Errorf("%w: score is NaN", ErrEvaluationFailed)
	}
	return score, nil
}

// crossValidate returns the mean score over folds.
func crossValidate(ctx context.Context, est workflow.Estimator, scorer workflow.Scorer, d dataset.Dataset, folds []dataset.Fold) (float64, error) {
	scores := make([]float64, 0, len(folds))
	for i, fold := range folds {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
		}
		s, err := trainAndScore(ctx, est, scorer, d.Subset(fold.Train), d.Subset(fold.Test))
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", i, err)
		}
		scores = append(scores, s)
	}
	return stat.Mean(scores, nil), nil
}

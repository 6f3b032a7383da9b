package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs a stage under its retry policy. Every attempt gets its own
// deadline and backoff grows linearly with the attempt number.
type Executor struct {
	logg         *logger.Logger
	metrics      *metrics.StageMetrics
	backoffScale float64
	sleep        Sleeper
}

// ExecutorParams configures an Executor.
type ExecutorParams struct {
	Logger       *logger.Logger
	Metrics      *metrics.StageMetrics
	BackoffScale float64
	Sleeper      Sleeper
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	scale := params.BackoffScale
	if scale < 0 {
		return nil, errors.New("backoff scale must not be negative")
	}
	sleeper := params.Sleeper
	if sleeper == nil {
		sleeper = sleepContext
	}
	return &Executor{
		logg:         params.Logger,
		metrics:      params.Metrics,
		backoffScale: scale,
		sleep:        sleeper,
	}, nil
}

// Backoff returns the wait before retry number attempt (1-based).
func (e *Executor) Backoff(p Policy, attempt int) time.Duration {
	return time.Duration(float64(p.BackoffBase) * float64(attempt) * e.backoffScale)
}

// Budget is the longest one task under p can run: every attempt reaches the
// time limit and every retry waits its full backoff.
func (e *Executor) Budget(p Policy) time.Duration {
	total := p.TimeLimit * time.Duration(p.MaxRetries+1)
	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		total += e.Backoff(p, attempt)
	}
	return total
}

// Execute runs stage until it succeeds, fails with a non-retryable error or
// exhausts its retries. It returns the number of attempts made.
func (e *Executor) Execute(ctx context.Context, stage Stage, in StageInput) (StageOutput, int, error) {
	policy := stage.Policy()
	maxAttempts := policy.MaxRetries + 1
	name := stage.Name().String()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := e.attempt(ctx, stage, policy, in)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return StageOutput{}, attempt, lastErr
		}
		if !pkgerrors.IsRetryable(err) {
			return StageOutput{}, attempt, lastErr
		}
		if attempt == maxAttempts {
			break
		}

		delay := e.Backoff(policy, attempt)
		logCtx := e.logg.WithFields(ctx, map[string]any{
			"stage":      name,
			"attempt":    attempt,
			"backoff_ms": delay.Milliseconds(),
			"error_code": pkgerrors.CodeOf(err),
		})
		e.logg.Warn(logCtx, "stage attempt failed, retrying")
		e.metrics.IncRetry(name)

		if err := e.sleep(ctx, delay); err != nil {
			return StageOutput{}, attempt, lastErr
		}
	}
	return StageOutput{}, maxAttempts, lastErr
}

func (e *Executor) attempt(ctx context.Context, stage Stage, policy Policy, in StageInput) (out StageOutput, err error) {
	attemptCtx := ctx
	if policy.TimeLimit > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.TimeLimit)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("stage %s panicked: %v", stage.Name(), r))
		}
	}()

	out, err = stage.Execute(attemptCtx, in)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && pkgerrors.As(err) == nil {
		err = pkgerrors.Wrap(pkgerrors.CodeTransient, err, fmt.Sprintf("stage %s exceeded its %s time limit", stage.Name(), policy.TimeLimit))
	}
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

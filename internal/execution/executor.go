package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Attempt describes one finished try of a unit of work. Backoff is the delay
// scheduled before the next try and is zero for the final attempt.
type Attempt struct {
	Number  int
	Err     error
	Backoff time.Duration
}

// Executor runs work in-process under the same timeout and retry contract
// Temporal applies to activities.
type Executor struct {
	Sleep   func(ctx context.Context, d time.Duration) error
	Rand    func() float64
	Observe func(Attempt)
}

func Do(ctx context.Context, op string, opts Options, fn func(ctx context.Context) error) error {
	return Executor{}.Do(ctx, op, opts, fn)
}

// Call is Do for work that returns a value. Only the value of the attempt
// that was accepted is returned; an abandoned attempt never overwrites it.
func Call[T any](ctx context.Context, exec Executor, op string, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	sleep := exec.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	random := exec.Rand
	if random == nil {
		random = rand.Float64
	}
	policy := opts.Retry

	var zero T
	for attempt := 1; ; attempt++ {
		value, err := runAttempt(ctx, op, opts.StartToClose, fn)
		if err == nil {
			exec.observe(Attempt{Number: attempt})
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = contextFailure(op, ctxErr, err)
			exec.observe(Attempt{Number: attempt, Err: err})
			return zero, err
		}
		if !IsRetryable(err) {
			exec.observe(Attempt{Number: attempt, Err: err})
			return zero, err
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			err = Exhausted(op, attempt, err)
			exec.observe(Attempt{Number: attempt, Err: err})
			return zero, err
		}
		delay := policy.Jitter(policy.Backoff(attempt), random())
		exec.observe(Attempt{Number: attempt, Err: err, Backoff: delay})
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			ctxErr := ctx.Err()
			if ctxErr == nil {
				ctxErr = sleepErr
			}
			return zero, contextFailure(op, ctxErr, err)
		}
	}
}

func (e Executor) Do(ctx context.Context, op string, opts Options, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, e, op, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (e Executor) observe(a Attempt) {
	if e.Observe != nil {
		e.Observe(a)
	}
}

// contextFailure reports a caller deadline as Timeout and passes any other
// context error through.
func contextFailure(op string, ctxErr error, lastErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return Timeout(op, lastErr)
	}
	return ctxErr
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt runs fn under the start-to-close timeout. When the timeout fires
// first the attempt is abandoned and reported as Timeout, whatever fn later
// returns.
func runAttempt[T any](ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult[T]{err: fmt.Errorf("%s: panic: %v", op, r)}
			}
		}()
		value, err := fn(attemptCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			cause := res.err
			if cause == nil {
				cause = context.DeadlineExceeded
			}
			return zero, Timeout(op, cause)
		}
		if res.err != nil {
			return zero, res.err
		}
		return res.value, nil
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, Timeout(op, fmt.Errorf("exceeded start-to-close timeout of %s", timeout))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

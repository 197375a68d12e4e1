package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Backoff describes an exponential retry schedule. The wait after attempt n
// (1-based) is InitialDelay * Factor^(n-1), capped at MaxDelay and spread by
// RandomizationFactor.
type Backoff struct {
	MaxAttempts         int
	InitialDelay        time.Duration
	Factor              float64
	MaxDelay            time.Duration
	RandomizationFactor float64

	// Sleep replaces the real timer, mostly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Factor:       2,
	}
}

func (b Backoff) exponential() *backoff.ExponentialBackOff {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     max(b.InitialDelay, 0),
		RandomizationFactor: b.RandomizationFactor,
		Multiplier:          factor,
		MaxInterval:         maxDelay,
	}
	bo.Reset()
	return bo
}

// sleeperBackOff waits through the injected Sleep and hands a zero interval
// to the retry loop, so tests drive the clock.
type sleeperBackOff struct {
	ctx   context.Context
	inner backoff.BackOff
	sleep func(ctx context.Context, d time.Duration) error
	err   error
}

func (s *sleeperBackOff) NextBackOff() time.Duration {
	d := s.inner.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	if err := s.sleep(s.ctx, d); err != nil {
		s.err = err
		return backoff.Stop
	}
	return 0
}

func (s *sleeperBackOff) Reset() { s.inner.Reset() }

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryWithBackoff calls fn until it succeeds, the schedule is exhausted, or
// retryable reports the error as permanent. A nil retryable retries every
// non-context error. It returns the number of attempts made alongside the
// last result.
func RetryWithBackoff[T any](
	ctx context.Context,
	b Backoff,
	retryable func(error) bool,
	fn func(ctx context.Context, attempt int) (T, error),
) (T, int, error) {
	maxAttempts := max(b.MaxAttempts, 1)

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, 0, err
	}

	var schedule backoff.BackOff = b.exponential()
	var sleeper *sleeperBackOff
	if b.Sleep != nil {
		sleeper = &sleeperBackOff{ctx: ctx, inner: schedule, sleep: b.Sleep}
		schedule = sleeper
	}

	attempts := 0
	operation := func() (T, error) {
		attempts++
		result, err := fn(ctx, attempts)
		if err == nil {
			return result, nil
		}
		if isContextErr(err) || (retryable != nil && !retryable(err)) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err == nil {
		return result, attempts, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if sleeper != nil && sleeper.err != nil {
		err = sleeper.err
	}
	return zero, attempts, err
}

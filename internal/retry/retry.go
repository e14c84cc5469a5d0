// Package retry wraps a single backend call with exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures retries for one backend call.
type Policy struct {
	// MaxRetries is the total number of attempts, including the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// AttemptTimeout bounds each individual attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration

	// Admit, if set, runs with the parent context before every attempt and
	// before its timeout starts. An error ends the loop and is returned as is.
	Admit func(ctx context.Context) error

	// OnRetry, if set, is called after a failed attempt that will be retried.
	OnRetry func(backend string, attempt int, delay time.Duration, err error)

	Logger *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns 3 attempts, 1s base delay doubling up to 10s, and a
// 30s bound per attempt.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

// Delays returns the sleep before each retry: min(base*multiplier^(n-1), max)
// for n = 1..MaxRetries-1.
func (p *Policy) Delays() []time.Duration {
	attempts := p.attempts()
	if attempts <= 1 {
		return nil
	}
	bo := p.schedule()
	out := make([]time.Duration, 0, attempts-1)
	for range attempts - 1 {
		out = append(out, bo.NextBackOff())
	}
	return out
}

func (p *Policy) attempts() int {
	if p.MaxRetries <= 0 {
		return 1
	}
	return p.MaxRetries
}

// schedule builds a jitter-free exponential backoff. ExponentialBackOff is not
// safe for concurrent use, so every call gets its own.
func (p *Policy) schedule() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	if bo.Multiplier < 1 {
		bo.Multiplier = 1
	}
	if bo.MaxInterval <= 0 {
		bo.MaxInterval = bo.InitialInterval
	}
	bo.Reset()
	return bo
}

// Do runs op until it succeeds or the policy is exhausted, and returns the last
// error on exhaustion. A cancelled ctx stops the loop without further attempts.
func Do[T any](ctx context.Context, p *Policy, backend string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if p == nil {
		p = DefaultPolicy()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := p.sleepFunc
	if sleep == nil {
		sleep = sleepCtx
	}

	attempts := p.attempts()
	bo := p.schedule()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.Admit != nil {
			if err := p.Admit(ctx); err != nil {
				return zero, err
			}
		}
		v, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt == attempts {
			break
		}

		delay := bo.NextBackOff()
		logger.Warn("backend call failed, retrying",
			"backend", backend,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", err,
		)
		if p.OnRetry != nil {
			p.OnRetry(backend, attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how an outbound call is retried: how many attempts in
// total, the exponential backoff schedule between them, and which errors are
// worth another attempt.
type Policy struct {
	Name            string
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	Retryable       func(err error) bool
}

// NewPolicy returns a doubling schedule (1s, 2s, 4s ... for a 1s initial
// interval) capped at 30s.
func NewPolicy(name string, maxAttempts int, initial time.Duration, retryable func(error) bool) Policy {
	return Policy{
		Name:            name,
		MaxAttempts:     maxAttempts,
		InitialInterval: initial,
		Multiplier:      2,
		MaxInterval:     30 * time.Second,
		Retryable:       retryable,
	}
}

// Delays returns the waits applied between consecutive attempts.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	b.Reset()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxInterval := p.MaxInterval
	if maxInterval < p.InitialInterval {
		maxInterval = p.InitialInterval
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the context is
// done, or the attempts are exhausted. The last error is returned unchanged
// so callers can classify it with errors.Is / errors.As.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	result, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			slog.Debug("Non-retryable error", "policy", p.Name, "attempt", attempt, "error", err)
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("Retry scheduled", "policy", p.Name, "attempt", attempt, "max_attempts", attempts, "delay", wait.String(), "error", err)
		}),
	)

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return result, err
	}

	return result, nil
}

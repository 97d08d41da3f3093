// Package resilience provides retry-with-backoff and circuit-breaker
// decorators for the dispatcher pipeline, generalizing
// core/command.WithBackoff/core/event.WithBackoff's exponential-delay retry
// loop and adding jitter and a circuit breaker the teacher's decorators
// don't have.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
)

// RetryConfig controls the exponential-backoff-with-jitter retry loop,
// realizing spec.md §4.3's delay_n = min(max_delay, base*2^(n-1)) * jitter
// formula via cenkalti/backoff/v4.ExponentialBackOff, which computes exactly
// that curve with its own RandomizationFactor jitter term.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable decides whether err should trigger another attempt. Nil
	// falls back to DefaultRetryable, the closed-set transient classifier.
	Retryable func(err error) bool
}

// DefaultRetryConfig matches the teacher's WithBackoff defaults in spirit:
// a handful of attempts, starting small, capped generously.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry returns a dispatcher.Decorator applying exponential backoff with
// jitter around next, stopping after MaxAttempts total tries (matching
// core/command.WithBackoff's "attempt <= maxRetries" loop, generalized to
// the non-generic Next signature and cenkalti/backoff's jittered curve).
func Retry(cfg RetryConfig) dispatcher.Decorator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = cfg.InitialInterval
			bo.MaxInterval = cfg.MaxInterval
			bo.Multiplier = cfg.Multiplier
			bo.MaxElapsedTime = 0 // bounded by MaxAttempts, not elapsed wall time

			var lastErr error
			var result any

			attempt := 0
			opErr := backoff.Retry(func() error {
				attempt++
				var err error
				result, err = next(ctx, env, payload)
				if err == nil {
					return nil
				}
				lastErr = err
				if attempt >= cfg.MaxAttempts || !retryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}, backoff.WithContext(bo, ctx))

			if opErr == nil {
				return result, nil
			}
			var permanent *backoff.PermanentError
			if errors.As(opErr, &permanent) {
				return result, fmt.Errorf("resilience: failed after %d attempts: %w", attempt, lastErr)
			}
			return result, opErr
		}
	}
}

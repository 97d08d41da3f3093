// Package idempotency caches handler results keyed by an idempotency key so a
// redelivered command produces the same response without re-executing side
// effects, generalizing pkg/ratelimiter.MemoryStore's bucket-map-with-TTL
// shape from "rate limit state" to "cached responses".
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/heromessaging/message"
)

// Outcome classifies a cached result so callers can distinguish a cached
// success from a cached failure without inspecting Error.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Record is a cached handler outcome.
type Record struct {
	Key       string
	Outcome   Outcome
	Result    any
	Err       error
	CreatedAt time.Time
	ExpiresAt time.Time
}

// KeyGenerator derives the idempotency key for a message, defaulting to
// MessageID but overridable so callers can dedupe on business identity
// (e.g. an order number) instead of transport identity.
type KeyGenerator func(ctx context.Context, env message.Envelope, payload any) string

// Classifier decides whether an error returned by a handler should itself be
// cached (an "idempotent failure" such as validation errors, which will
// deterministically fail again) or left uncached (a transient error worth
// retrying for real, such as a database timeout).
type Classifier func(err error) (cacheable bool)

// Store persists idempotency records with TTL semantics. storage/memory and
// storage/redis each provide an implementation; Redis is a deliberately
// strong fit given its native key TTL.
type Store interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Put(ctx context.Context, record *Record) error
}

// Policy configures caching behavior per spec.md §4.2.
type Policy struct {
	// SuccessTTL is how long a successful result is cached. Zero disables
	// success caching (handler always re-executes).
	SuccessTTL time.Duration

	// FailureTTL is how long a cacheable failure is cached. Only consulted
	// when CacheFailures is true.
	FailureTTL time.Duration

	// CacheFailures enables caching of errors the Classifier marks cacheable.
	CacheFailures bool
}

// DefaultPolicy matches spec.md's suggested defaults: cache successes for a
// generous window, and cache cacheable failures for an hour so a redelivered
// message that deterministically fails doesn't re-execute the handler on
// every retry.
func DefaultPolicy() Policy {
	return Policy{
		SuccessTTL:    24 * time.Hour,
		FailureTTL:    time.Hour,
		CacheFailures: true,
	}
}

// NewPolicy validates successTTL and failureTTL, rejecting zero or negative
// durations at configuration time rather than letting them silently disable
// caching.
func NewPolicy(successTTL, failureTTL time.Duration, cacheFailures bool) (Policy, error) {
	if successTTL <= 0 {
		return Policy{}, fmt.Errorf("idempotency: success TTL must be positive, got %s", successTTL)
	}
	if failureTTL <= 0 {
		return Policy{}, fmt.Errorf("idempotency: failure TTL must be positive, got %s", failureTTL)
	}
	return Policy{SuccessTTL: successTTL, FailureTTL: failureTTL, CacheFailures: cacheFailures}, nil
}

// DefaultKeyGenerator uses the envelope's MessageID, the natural default for
// at-least-once redelivery dedup: a redelivery of the same message carries
// the same MessageID, so the cached result is served without re-executing
// the handler. Callers who need to dedupe on business identity instead
// (e.g. an order number shared across distinct envelopes) install their own
// KeyGenerator via WithKeyGenerator.
func DefaultKeyGenerator(_ context.Context, env message.Envelope, _ any) string {
	return env.MessageID
}

// AlwaysCacheable is a Classifier that caches every error, matching callers
// who treat all handler failures as reproducible.
func AlwaysCacheable(error) bool { return true }

// NeverCacheable is a Classifier that never caches errors, leaving every
// failure to be retried for real. This is the conservative default.
func NeverCacheable(error) bool { return false }

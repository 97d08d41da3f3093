package idempotency

import (
	"context"
	"time"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"golang.org/x/sync/singleflight"
)

// Engine wires a Store, Policy, KeyGenerator, and Classifier into a
// dispatcher.Decorator. It sits directly above batching in the canonical
// pipeline order (Observability, Resilience, Transaction, Idempotency,
// Batching, Terminal) so a cached response short-circuits everything below
// it, including the terminal handler invocation.
type Engine struct {
	store      Store
	policy     Policy
	keyFn      KeyGenerator
	classify   Classifier
	now        func() time.Time
	group      *singleflight.Group
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// New builds an Engine over store with DefaultPolicy, DefaultKeyGenerator,
// and NeverCacheable unless overridden.
func New(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		policy:   DefaultPolicy(),
		keyFn:    DefaultKeyGenerator,
		classify: NeverCacheable,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithPolicy overrides the default caching policy.
func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithKeyGenerator overrides the default MessageID-based key derivation.
func WithKeyGenerator(fn KeyGenerator) EngineOption {
	return func(e *Engine) { e.keyFn = fn }
}

// WithClassifier overrides which errors are cacheable.
func WithClassifier(fn Classifier) EngineOption {
	return func(e *Engine) { e.classify = fn }
}

// WithSingleFlight enables golang.org/x/sync/singleflight so concurrent
// dispatches sharing an idempotency key collapse into one handler execution,
// resolving spec.md §9 Open Question 2 for callers who need the stronger
// guarantee over the default best-effort (last-writer-wins) caching.
func WithSingleFlight() EngineOption {
	return func(e *Engine) { e.group = new(singleflight.Group) }
}

// Decorator returns the dispatcher.Decorator implementing this engine's
// caching behavior.
func (e *Engine) Decorator() dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			key := e.keyFn(ctx, env, payload)
			if key == "" {
				return next(ctx, env, payload)
			}

			if record, found, err := e.store.Get(ctx, key); err == nil && found && e.now().Before(record.ExpiresAt) {
				if record.Outcome == OutcomeFailure {
					return record.Result, record.Err
				}
				return record.Result, nil
			}

			execute := func() (any, error) { return next(ctx, env, payload) }

			var result any
			var err error
			if e.group != nil {
				v, shared, sfErr := e.group.Do(key, func() (any, error) {
					r, execErr := execute()
					return sfResult{r, execErr}, nil
				})
				_ = shared
				_ = sfErr
				sr := v.(sfResult)
				result, err = sr.value, sr.err
			} else {
				result, err = execute()
			}

			e.cache(ctx, key, result, err)
			return result, err
		}
	}
}

type sfResult struct {
	value any
	err   error
}

func (e *Engine) cache(ctx context.Context, key string, result any, err error) {
	now := e.now()
	if err == nil {
		if e.policy.SuccessTTL <= 0 {
			return
		}
		_ = e.store.Put(ctx, &Record{
			Key:       key,
			Outcome:   OutcomeSuccess,
			Result:    result,
			CreatedAt: now,
			ExpiresAt: now.Add(e.policy.SuccessTTL),
		})
		return
	}

	if !e.policy.CacheFailures || !e.classify(err) {
		return
	}
	_ = e.store.Put(ctx, &Record{
		Key:       key,
		Outcome:   OutcomeFailure,
		Result:    result,
		Err:       err,
		CreatedAt: now,
		ExpiresAt: now.Add(e.policy.FailureTTL),
	})
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
)

// State is one of the three circuit breaker states from spec.md §4.3.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by CircuitBreaker when it rejects a call without
// invoking next because the circuit is currently Open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitBreakerConfig tunes the failure threshold and recovery wait that
// drive state transitions.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in Closed that
	// trips the breaker to Open.
	FailureThreshold int

	// OpenDuration is how long the breaker stays Open before probing via
	// HalfOpen.
	OpenDuration time.Duration
}

// DefaultCircuitBreakerConfig is a conservative starting point.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

// CircuitBreaker implements the Closed/Open/HalfOpen state machine from
// spec.md §4.3. Unlike Retry, which wraps a single call's attempts, a
// CircuitBreaker accumulates state across calls sharing the same instance —
// construct one per protected resource (e.g. per downstream dependency), not
// per call.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker builds a CircuitBreaker starting Closed.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Decorator returns the dispatcher.Decorator enforcing this breaker's state
// machine around next.
func (cb *CircuitBreaker) Decorator() dispatcher.Decorator {
	return func(next dispatcher.Next) dispatcher.Next {
		return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
			if !cb.allow() {
				return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, env.Name)
			}
			result, err := next(ctx, env, payload)
			cb.record(err == nil)
			return result, err
		}
	}
}

// allow reports whether a call may proceed, transitioning Open to HalfOpen
// once OpenDuration has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.OpenDuration {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// record updates the state machine after a call completes. HalfOpen closes
// on a single successful probe call, per spec.md §4.3 — there is no
// multi-success quorum.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if success {
			cb.state = StateClosed
			cb.consecutiveFails = 0
			return
		}
		cb.trip()
	case StateClosed:
		if success {
			cb.consecutiveFails = 0
			return
		}
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.consecutiveFails = 0
}

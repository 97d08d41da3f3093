package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/resilience"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, errBoom
		}
		return "ok", nil
	}

	decorated := resilience.Retry(resilience.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		Retryable:       resilience.AlwaysRetryable,
	})(terminal)

	result, err := decorated(context.Background(), message.Envelope{Name: "Test"}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, attempts)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		attempts++
		return nil, errBoom
	}

	decorated := resilience.Retry(resilience.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      2,
		Retryable:       resilience.AlwaysRetryable,
	})(terminal)

	_, err := decorated(context.Background(), message.Envelope{Name: "Test"}, nil)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestCircuitBreaker_TripsAfterThresholdAndRecovers(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		OpenDuration:     10 * time.Millisecond,
	})

	failing := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return nil, errBoom
	}
	decorated := cb.Decorator()(failing)

	_, _ = decorated(context.Background(), message.Envelope{}, nil)
	require.Equal(t, resilience.StateClosed, cb.State())
	_, _ = decorated(context.Background(), message.Envelope{}, nil)
	require.Equal(t, resilience.StateOpen, cb.State())

	_, err := decorated(context.Background(), message.Envelope{}, nil)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)

	succeeding := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return "recovered", nil
	}
	recoveredDecorated := cb.Decorator()(succeeding)
	result, err := recoveredDecorated(context.Background(), message.Envelope{}, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", result)
	require.Equal(t, resilience.StateClosed, cb.State())
}

func TestProfiles_MatchEnumeratedValues(t *testing.T) {
	cases := []struct {
		name    string
		profile resilience.Profile
		retry   resilience.RetryConfig
		breaker resilience.CircuitBreakerConfig
	}{
		{
			name:    "cloud",
			profile: resilience.CloudProfile(),
			retry: resilience.RetryConfig{
				MaxAttempts: 5, InitialInterval: 2 * time.Second, MaxInterval: 2 * time.Minute, Multiplier: 2.0,
			},
			breaker: resilience.CircuitBreakerConfig{FailureThreshold: 8, OpenDuration: 3 * time.Minute},
		},
		{
			name:    "on_premises",
			profile: resilience.OnPremisesProfile(),
			retry: resilience.RetryConfig{
				MaxAttempts: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 30 * time.Second, Multiplier: 2.0,
			},
			breaker: resilience.CircuitBreakerConfig{FailureThreshold: 5, OpenDuration: time.Minute},
		},
		{
			name:    "microservices",
			profile: resilience.MicroservicesProfile(),
			retry: resilience.RetryConfig{
				MaxAttempts: 4, InitialInterval: time.Second, MaxInterval: 45 * time.Second, Multiplier: 2.0,
			},
			breaker: resilience.CircuitBreakerConfig{FailureThreshold: 6, OpenDuration: 90 * time.Second},
		},
		{
			name:    "batch_processing",
			profile: resilience.BatchProcessingProfile(),
			retry: resilience.RetryConfig{
				MaxAttempts: 7, InitialInterval: 3 * time.Second, MaxInterval: 5 * time.Minute, Multiplier: 2.0,
			},
			breaker: resilience.CircuitBreakerConfig{FailureThreshold: 12, OpenDuration: 5 * time.Minute},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.name, tc.profile.Name)
			require.Equal(t, tc.retry, tc.profile.Retry)
			require.Equal(t, tc.breaker, tc.profile.CircuitBreaker)
		})
	}
}

func TestDefaultRetryable_ClassifiesClosedSet(t *testing.T) {
	require.False(t, resilience.DefaultRetryable(context.Canceled), "cancellation must not retry")
	require.False(t, resilience.DefaultRetryable(context.DeadlineExceeded), "cancellation must not retry")
	require.False(t, resilience.DefaultRetryable(dispatcher.ErrHandlerNotFound), "missing handler is not transient")
	require.False(t, resilience.DefaultRetryable(errors.New("invalid argument: amount must be positive")))

	require.True(t, resilience.DefaultRetryable(fmt.Errorf("dial tcp: %w", errors.New("connection refused"))))
	require.True(t, resilience.DefaultRetryable(&net.DNSError{Err: "no such host", Name: "example.invalid"}))
	require.True(t, resilience.DefaultRetryable(timeoutError{}))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestCircuitBreaker_ShippedProfileClosesOnSingleProbeSuccess(t *testing.T) {
	profile := resilience.DevelopmentProfile()
	cb := resilience.NewCircuitBreaker(profile.CircuitBreaker)

	failing := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return nil, errBoom
	}
	decorated := cb.Decorator()(failing)
	for i := 0; i < profile.CircuitBreaker.FailureThreshold; i++ {
		_, _ = decorated(context.Background(), message.Envelope{}, nil)
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	time.Sleep(profile.CircuitBreaker.OpenDuration + 5*time.Millisecond)

	succeeding := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return "ok", nil
	}
	_, err := cb.Decorator()(succeeding)(context.Background(), message.Envelope{}, nil)
	require.NoError(t, err)
	require.Equal(t, resilience.StateClosed, cb.State(), "a single successful probe must close the breaker")
}

package resilience

import "time"

// Profile bundles a RetryConfig and CircuitBreakerConfig for a named
// deployment scenario, per spec.md §4.3's six pre-baked profiles. A Profile
// is a starting point, not a mandate — every field can be overridden after
// selection.
type Profile struct {
	Name           string
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
}

// CloudProfile favors aggressive retry and a patient breaker: cloud
// dependencies fail transiently and recover on their own timescale.
func CloudProfile() Profile {
	return Profile{
		Name: "cloud",
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 2 * time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 8,
			OpenDuration:     3 * time.Minute,
		},
	}
}

// OnPremisesProfile assumes a stable, low-latency network: fewer retries,
// a faster-tripping breaker since failures are more likely to be real.
func OnPremisesProfile() Profile {
	return Profile{
		Name: "on_premises",
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenDuration:     time.Minute,
		},
	}
}

// MicroservicesProfile targets chatty intra-cluster calls: fast retries,
// short breaker windows so one flapping service doesn't stall callers long.
func MicroservicesProfile() Profile {
	return Profile{
		Name: "microservices",
		Retry: RetryConfig{
			MaxAttempts:     4,
			InitialInterval: time.Second,
			MaxInterval:     45 * time.Second,
			Multiplier:      2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 6,
			OpenDuration:     90 * time.Second,
		},
	}
}

// BatchProcessingProfile favors patience over fast-fail: batch jobs can
// afford long backoff, and a flapping breaker would stall a whole run.
func BatchProcessingProfile() Profile {
	return Profile{
		Name: "batch_processing",
		Retry: RetryConfig{
			MaxAttempts:     7,
			InitialInterval: 3 * time.Second,
			MaxInterval:     5 * time.Minute,
			Multiplier:      2.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 12,
			OpenDuration:     5 * time.Minute,
		},
	}
}

// DevelopmentProfile fails fast with no retry noise, useful when iterating
// locally against handlers that are expected to fail during development.
func DevelopmentProfile() Profile {
	return Profile{
		Name: "development",
		Retry: RetryConfig{
			MaxAttempts:     1,
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     10 * time.Millisecond,
			Multiplier:      1.0,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 1,
			OpenDuration:     time.Second,
		},
	}
}

// HighAvailabilityProfile maximizes retry persistence and gives the breaker
// a wide berth before tripping, for paths where availability trumps latency.
func HighAvailabilityProfile() Profile {
	return Profile{
		Name: "high_availability",
		Retry: RetryConfig{
			MaxAttempts:     10,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      1.5,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 15,
			OpenDuration:     20 * time.Second,
		},
	}
}

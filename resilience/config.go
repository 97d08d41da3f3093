package resilience

import "time"

// RetryEnvConfig is a process-wide, environment-driven settings struct for
// RetryConfig, parsed with caarlos0/env/v11 the way core/queue/config.go's
// Config is — distinct from DefaultRetryConfig, which remains the in-code
// starting point for callers that don't load from the environment.
type RetryEnvConfig struct {
	MaxAttempts     int           `env:"HEROMESSAGING_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	InitialInterval time.Duration `env:"HEROMESSAGING_RETRY_INITIAL_INTERVAL" envDefault:"100ms"`
	MaxInterval     time.Duration `env:"HEROMESSAGING_RETRY_MAX_INTERVAL" envDefault:"10s"`
	Multiplier      float64       `env:"HEROMESSAGING_RETRY_MULTIPLIER" envDefault:"2.0"`
}

// RetryConfig converts cfg into a resilience.RetryConfig. Retryable is left
// nil since a predicate can't be expressed in the environment; Retry falls
// back to DefaultRetryable, the closed-set transient classifier, unless the
// caller sets Retryable explicitly after conversion.
func (cfg RetryEnvConfig) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      cfg.Multiplier,
	}
}

// CircuitBreakerEnvConfig is the environment-driven counterpart to
// CircuitBreakerConfig.
type CircuitBreakerEnvConfig struct {
	FailureThreshold int           `env:"HEROMESSAGING_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	OpenDuration     time.Duration `env:"HEROMESSAGING_BREAKER_OPEN_DURATION" envDefault:"30s"`
}

// CircuitBreakerConfig converts cfg into a resilience.CircuitBreakerConfig.
func (cfg CircuitBreakerEnvConfig) CircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		OpenDuration:     cfg.OpenDuration,
	}
}

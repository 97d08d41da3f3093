package idempotency

import "time"

// EnvConfig is the environment-driven counterpart to Policy, parsed with
// caarlos0/env/v11 following core/queue/config.go's env-tagged-struct
// convention.
type EnvConfig struct {
	SuccessTTL    time.Duration `env:"HEROMESSAGING_IDEMPOTENCY_SUCCESS_TTL" envDefault:"24h"`
	FailureTTL    time.Duration `env:"HEROMESSAGING_IDEMPOTENCY_FAILURE_TTL" envDefault:"1h"`
	CacheFailures bool          `env:"HEROMESSAGING_IDEMPOTENCY_CACHE_FAILURES" envDefault:"true"`
}

// Policy converts cfg into an idempotency.Policy, rejecting a zero or
// negative TTL at configuration time via NewPolicy.
func (cfg EnvConfig) Policy() (Policy, error) {
	return NewPolicy(cfg.SuccessTTL, cfg.FailureTTL, cfg.CacheFailures)
}

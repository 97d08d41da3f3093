package scheduler

import "time"

// EnvConfig is a process-wide, environment-driven settings struct for the
// storage-backed Scheduler, parsed with caarlos0/env/v11 following
// outbox.EnvConfig's pattern.
type EnvConfig struct {
	CheckInterval   time.Duration `env:"HEROMESSAGING_SCHEDULER_CHECK_INTERVAL" envDefault:"30s"`
	ClaimBatchSize  int           `env:"HEROMESSAGING_SCHEDULER_CLAIM_BATCH_SIZE" envDefault:"50"`
	MaxConcurrency  int           `env:"HEROMESSAGING_SCHEDULER_MAX_CONCURRENCY" envDefault:"8"`
	MaxAttempts     int           `env:"HEROMESSAGING_SCHEDULER_MAX_ATTEMPTS" envDefault:"5"`
	AutoCleanup     bool          `env:"HEROMESSAGING_SCHEDULER_AUTO_CLEANUP" envDefault:"true"`
	CleanupAge      time.Duration `env:"HEROMESSAGING_SCHEDULER_CLEANUP_AGE" envDefault:"24h"`
	CleanupInterval time.Duration `env:"HEROMESSAGING_SCHEDULER_CLEANUP_INTERVAL" envDefault:"1h"`
}

// Options converts cfg into the equivalent Option slice, so a caller can do
// scheduler.New(storage, dispatch, cfg.Options()...) after loading cfg with
// env.Parse.
func (cfg EnvConfig) Options() []Option {
	opts := []Option{
		WithCheckInterval(cfg.CheckInterval),
		WithClaimBatchSize(cfg.ClaimBatchSize),
		WithMaxConcurrency(cfg.MaxConcurrency),
		WithMaxAttempts(cfg.MaxAttempts),
	}
	if cfg.AutoCleanup {
		opts = append(opts, WithAutoCleanup(cfg.CleanupAge, cfg.CleanupInterval))
	}
	return opts
}

package outbox

import "time"

// EnvConfig is a process-wide, environment-driven settings struct for an
// outbox Processor, parsed with caarlos0/env/v11 the way
// core/queue/config.go's Config is — distinct from the functional Option
// constructors above, which remain the way callers override individual
// knobs at construction time.
type EnvConfig struct {
	PollInterval    time.Duration `env:"HEROMESSAGING_OUTBOX_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout     time.Duration `env:"HEROMESSAGING_OUTBOX_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"HEROMESSAGING_OUTBOX_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	ClaimBatchSize  int           `env:"HEROMESSAGING_OUTBOX_CLAIM_BATCH_SIZE" envDefault:"10"`
	MaxAttempts     int           `env:"HEROMESSAGING_OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase     time.Duration `env:"HEROMESSAGING_OUTBOX_BACKOFF_BASE" envDefault:"1s"`
	BackoffMax      time.Duration `env:"HEROMESSAGING_OUTBOX_BACKOFF_MAX" envDefault:"5m"`
}

// Options converts cfg into the equivalent Option slice, so a caller can do
// outbox.New(storage, publisher, cfg.Options()...) after loading cfg with
// env.Parse.
func (cfg EnvConfig) Options() []Option {
	return []Option{
		WithPollInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithClaimBatchSize(cfg.ClaimBatchSize),
		WithMaxAttempts(cfg.MaxAttempts),
		WithBackoff(cfg.BackoffBase, cfg.BackoffMax),
	}
}

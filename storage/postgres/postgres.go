// Package postgres is a reference storageport backend over pgx/pgxpool,
// grounded directly on integration/database/pg's Connect/Healthcheck/error
// classification shape. It realizes spec.md §6's "concrete storage
// backends... out of scope (external collaborator)" as a drop-in, swappable
// adapter: the engines in outbox/, inbox/, scheduler/, and saga/ depend only
// on storageport interfaces and never import this package directly.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Domain-specific errors, mirroring integration/database/pg's sentinel set.
var (
	ErrEmptyConnectionString = errors.New("postgres: empty connection string")
	ErrFailedToOpenDBConn    = errors.New("postgres: failed to open db connection")
	ErrHealthcheckFailed     = errors.New("postgres: healthcheck failed")
)

// Config configures the pgxpool connection, following
// core/queue.Config/integration/database/pg.Config's env-tagged-struct
// convention.
type Config struct {
	ConnectionString  string        `env:"HEROMESSAGING_PG_CONN_URL,required"`
	MaxOpenConns      int32         `env:"HEROMESSAGING_PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"HEROMESSAGING_PG_MAX_IDLE_CONNS" envDefault:"5"`
	MaxConnLifetime   time.Duration `env:"HEROMESSAGING_PG_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxConnIdleTime   time.Duration `env:"HEROMESSAGING_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	HealthCheckPeriod time.Duration `env:"HEROMESSAGING_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	RetryAttempts     int           `env:"HEROMESSAGING_PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval     time.Duration `env:"HEROMESSAGING_PG_RETRY_INTERVAL" envDefault:"1s"`
	MigrationsTable   string        `env:"HEROMESSAGING_PG_MIGRATIONS_TABLE" envDefault:"heromessaging_schema_migrations"`
}

// Connect opens a pgxpool.Pool per cfg, retrying RetryAttempts times with a
// fixed RetryInterval between attempts, and verifies connectivity with a
// Ping before returning. Mirrors integration/database/pg.Connect's
// retry-then-verify shape.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToOpenDBConn, err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = cfg.MaxIdleConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	var pool *pgxpool.Pool
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pool, lastErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if lastErr == nil {
			if lastErr = pool.Ping(ctx); lastErr == nil {
				return pool, nil
			}
			pool.Close()
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrFailedToOpenDBConn, lastErr)
}

// Healthcheck returns a function suitable for a Kubernetes readiness probe
// or HTTP health endpoint, per the ambient-stack Healthcheck convention.
func Healthcheck(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// IsNotFoundError reports whether err is pgx.ErrNoRows, the pgx idiom for
// "no row matched" as distinct from a real query failure.
func IsNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsUniqueViolation reports whether err is a unique-constraint violation
// (Postgres SQLSTATE 23505). The adapters in this package do not call it:
// their duplicate-insert cases are handled with ON CONFLICT clauses.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

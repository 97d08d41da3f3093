// Package redis is a reference idempotency.Store backed by go-redis/v9,
// grounded on the teacher's go.mod inclusion of redis/go-redis/v9 (no
// teacher core package exercises it directly) and
// Chris-Alexander-Pop-go-hyperforge's pkg/cache/adapters/redis.RedisCache
// JSON-marshal-then-SET-with-TTL shape. Redis's native per-key TTL is a
// structural fit for spec.md §4.2's success/failure TTL policy: expiry is
// enforced by Redis itself rather than a sweep goroutine.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/heromessaging/idempotency"
)

// Config configures the go-redis client, following
// integration/database/redis.Config's env-tagged-struct convention.
type Config struct {
	ConnectionURL  string        `env:"HEROMESSAGING_REDIS_URL,required"`
	ConnectTimeout time.Duration `env:"HEROMESSAGING_REDIS_CONNECT_TIMEOUT" envDefault:"10s"`
	KeyPrefix      string        `env:"HEROMESSAGING_REDIS_KEY_PREFIX" envDefault:"heromessaging:idempotency:"`
}

// Domain-specific errors, mirroring integration/database/redis's sentinel set.
var (
	ErrEmptyConnectionURL = errors.New("redis: empty connection URL")
	ErrFailedToParseURL   = errors.New("redis: failed to parse connection URL")
	ErrHealthcheckFailed  = errors.New("redis: healthcheck failed")
)

// Connect builds a *goredis.Client from cfg.ConnectionURL and verifies
// connectivity with a Ping, mirroring integration/database/redis.Connect's
// parse-then-verify shape.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts, err := goredis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToParseURL, err)
	}

	pingCtx := ctx
	var cancel context.CancelFunc
	if cfg.ConnectTimeout > 0 {
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
	}
	return client, nil
}

// Healthcheck returns a function suitable for a readiness probe.
func Healthcheck(client *goredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrHealthcheckFailed, err)
		}
		return nil
	}
}

// wireRecord is the JSON-on-the-wire shape of an idempotency.Record, per
// spec.md §3's "Idempotency record" fields. Err is flattened to a message
// string since Go errors don't round-trip through JSON; Get reconstructs a
// plain errors.New(FailureMessage) on read, which is sufficient for the
// idempotency decorator's classification/rethrow contract (it only needs
// the message, not the original type).
type wireRecord struct {
	Key            string              `json:"key"`
	Status         idempotency.Outcome `json:"status"`
	Payload        json.RawMessage     `json:"payload,omitempty"`
	FailureMessage string              `json:"failure_message,omitempty"`
	StoredAt       time.Time           `json:"stored_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
}

// Store implements idempotency.Store over a Redis client, using the key's
// native TTL instead of a background sweep for expiry.
type Store struct {
	client    *goredis.Client
	keyPrefix string
}

// New builds a Store over client, namespacing every key with keyPrefix
// (defaulting to "heromessaging:idempotency:") to share a Redis instance
// safely with unrelated data.
func New(client *goredis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "heromessaging:idempotency:"
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) redisKey(key string) string { return s.keyPrefix + key }

func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, bool, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: idempotency get: %w", err)
	}

	var wire wireRecord
	if err := json.Unmarshal(val, &wire); err != nil {
		return nil, false, fmt.Errorf("redis: idempotency unmarshal: %w", err)
	}

	record := &idempotency.Record{
		Key:       wire.Key,
		Outcome:   wire.Status,
		CreatedAt: wire.StoredAt,
		ExpiresAt: wire.ExpiresAt,
	}
	if len(wire.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, false, fmt.Errorf("redis: idempotency payload unmarshal: %w", err)
		}
		record.Result = payload
	}
	if wire.FailureMessage != "" {
		record.Err = errors.New(wire.FailureMessage)
	}
	return record, true, nil
}

func (s *Store) Put(ctx context.Context, record *idempotency.Record) error {
	wire := wireRecord{
		Key:       record.Key,
		Status:    record.Outcome,
		StoredAt:  record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}
	if record.Result != nil {
		payload, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("redis: idempotency marshal payload: %w", err)
		}
		wire.Payload = payload
	}
	if record.Err != nil {
		wire.FailureMessage = record.Err.Error()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redis: idempotency marshal: %w", err)
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.redisKey(record.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: idempotency set: %w", err)
	}
	return nil
}

var _ idempotency.Store = (*Store)(nil)

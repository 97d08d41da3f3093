package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/heromessaging/idempotency"
	"github.com/dmitrymomot/heromessaging/storage/redis"
)

func newTestStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return redis.New(client, ""), mr
}

func TestStore_PutThenGet_RoundTripsSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	record := &idempotency.Record{
		Key:       "order-123",
		Outcome:   idempotency.OutcomeSuccess,
		Result:    map[string]any{"total": 99.99},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.Put(ctx, record))

	got, ok, err := store.Get(ctx, "order-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idempotency.OutcomeSuccess, got.Outcome)
	assert.Equal(t, 99.99, got.Result.(map[string]any)["total"])
}

func TestStore_PutThenGet_RoundTripsFailure(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	record := &idempotency.Record{
		Key:       "cmd-456",
		Outcome:   idempotency.OutcomeFailure,
		Err:       assertError("validation failed"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
	require.NoError(t, store.Put(ctx, record))

	got, ok, err := store.Get(ctx, "cmd-456")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idempotency.OutcomeFailure, got.Outcome)
	assert.EqualError(t, got.Err, "validation failed")
}

func TestStore_Get_MissReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ExpiredKeyIsEvictedByRedisTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	record := &idempotency.Record{
		Key:       "short-lived",
		Outcome:   idempotency.OutcomeSuccess,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Second),
	}
	require.NoError(t, store.Put(ctx, record))

	mr.FastForward(2 * time.Second)

	_, ok, err := store.Get(ctx, "short-lived")
	require.NoError(t, err)
	assert.False(t, ok)
}

type assertError string

func (e assertError) Error() string { return string(e) }

package outbox_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/outbox"
	"github.com/dmitrymomot/heromessaging/storage/memory"
	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/stretchr/testify/require"
)

func TestProcessor_PublishesPendingEntry(t *testing.T) {
	store := memory.NewOutboxStorage()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &storageport.OutboxEntry{MessageName: "OrderPlaced", MaxAttempts: 3}))

	var published atomic.Int32
	p := outbox.NewProcessor(store, func(ctx context.Context, entry storageport.OutboxEntry) error {
		published.Add(1)
		return nil
	}, outbox.WithPollInterval(5*time.Millisecond))

	runCtx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = p.Start(runCtx)

	require.Eventually(t, func() bool { return published.Load() >= 1 }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, p.Stats().Processed, int64(1))
}

func TestProcessor_MovesToDeadLetterAfterMaxAttempts(t *testing.T) {
	store := memory.NewOutboxStorage()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &storageport.OutboxEntry{MessageName: "OrderPlaced", MaxAttempts: 1}))

	boom := errors.New("downstream unavailable")
	p := outbox.NewProcessor(store, func(ctx context.Context, entry storageport.OutboxEntry) error {
		return boom
	}, outbox.WithPollInterval(5*time.Millisecond), outbox.WithMaxAttempts(1))

	runCtx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = p.Start(runCtx)

	require.Eventually(t, func() bool { return p.Stats().DeadLettered >= 1 }, time.Second, time.Millisecond)
}

func TestProcessor_StopBeforeStartReturnsErrNotStarted(t *testing.T) {
	store := memory.NewOutboxStorage()
	p := outbox.NewProcessor(store, func(ctx context.Context, entry storageport.OutboxEntry) error { return nil })
	err := p.Stop()
	require.ErrorIs(t, err, outbox.ErrNotStarted)
}

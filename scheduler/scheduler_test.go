package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/scheduler"
	"github.com/dmitrymomot/heromessaging/storage/memory"
	"github.com/dmitrymomot/heromessaging/storageport"
	"github.com/stretchr/testify/require"
)

func TestScheduler_DispatchesDueMessage(t *testing.T) {
	store := memory.NewScheduledMessageStorage()
	var dispatched atomic.Int32

	s := scheduler.New(store, func(ctx context.Context, msg storageport.ScheduledMessage) error {
		dispatched.Add(1)
		return nil
	}, scheduler.WithCheckInterval(5*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), &storageport.ScheduledMessage{
		MessageName: "SendReminder",
		DueAt:       time.Now().Add(-time.Second),
	}))

	runCtx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Start(runCtx)

	require.Eventually(t, func() bool { return dispatched.Load() >= 1 }, time.Second, time.Millisecond)
	require.GreaterOrEqual(t, s.Stats().Dispatched, int64(1))
}

func TestScheduler_DoesNotDispatchFutureMessage(t *testing.T) {
	store := memory.NewScheduledMessageStorage()
	var dispatched atomic.Int32

	s := scheduler.New(store, func(ctx context.Context, msg storageport.ScheduledMessage) error {
		dispatched.Add(1)
		return nil
	}, scheduler.WithCheckInterval(5*time.Millisecond))

	require.NoError(t, s.Schedule(context.Background(), &storageport.ScheduledMessage{
		MessageName: "SendReminder",
		DueAt:       time.Now().Add(time.Hour),
	}))

	runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Start(runCtx)

	require.Equal(t, int32(0), dispatched.Load())
}

func TestScheduler_CancelPreventsDispatch(t *testing.T) {
	store := memory.NewScheduledMessageStorage()
	var dispatched atomic.Int32

	s := scheduler.New(store, func(ctx context.Context, msg storageport.ScheduledMessage) error {
		dispatched.Add(1)
		return nil
	}, scheduler.WithCheckInterval(5*time.Millisecond))

	msg := &storageport.ScheduledMessage{MessageName: "SendReminder", DueAt: time.Now().Add(-time.Second)}
	require.NoError(t, s.Schedule(context.Background(), msg))
	require.NoError(t, s.Cancel(context.Background(), msg.ID))

	runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = s.Start(runCtx)

	require.Equal(t, int32(0), dispatched.Load())
}

package batching_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/batching"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/stretchr/testify/require"
)

func TestAssembler_FlushesOnMaxBatchSize(t *testing.T) {
	var batchSizes []int
	var mu sync.Mutex
	var callCount atomic.Int32

	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		callCount.Add(1)
		mu.Lock()
		batchSizes = append(batchSizes, 1)
		mu.Unlock()
		return "ok", nil
	}

	a := batching.New(batching.Config{
		MinBatchSize:           1,
		MaxBatchSize:           3,
		BatchTimeout:           time.Hour,
		MaxDegreeOfParallelism: 3,
		ContinueOnFailure:      true,
	})
	decorated := a.Decorator()(terminal)

	env := message.Envelope{Name: "Widget"}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := decorated(context.Background(), env, nil)
			require.NoError(t, err)
			require.Equal(t, "ok", result)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 3, callCount.Load())
}

func TestAssembler_FlushesOnTimeout(t *testing.T) {
	var callCount atomic.Int32
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		callCount.Add(1)
		return nil, nil
	}

	a := batching.New(batching.Config{
		MinBatchSize:           1,
		MaxBatchSize:           100,
		BatchTimeout:           10 * time.Millisecond,
		MaxDegreeOfParallelism: 1,
	})
	decorated := a.Decorator()(terminal)

	env := message.Envelope{Name: "Widget"}
	_, err := decorated(context.Background(), env, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, callCount.Load())
}

func TestAssembler_Flush_ForcesPartialBatch(t *testing.T) {
	var callCount atomic.Int32
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		callCount.Add(1)
		return nil, nil
	}

	a := batching.New(batching.Config{
		MinBatchSize:           5,
		MaxBatchSize:           100,
		BatchTimeout:           time.Hour,
		MaxDegreeOfParallelism: 1,
	})
	decorated := a.Decorator()(terminal)

	env := message.Envelope{Name: "Widget"}
	done := make(chan struct{})
	go func() {
		_, _ = decorated(context.Background(), env, nil)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	a.Flush()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush did not release the pending item")
	}
	require.EqualValues(t, 1, callCount.Load())
}

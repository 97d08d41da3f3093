package ringbuffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPowerOfTwo(t *testing.T) {
	_, err := New(Config{Capacity: 100})
	require.ErrorIs(t, err, ErrCapacityNotPowerOfTwo)
}

func TestRingBuffer_SingleProducerSingleConsumer_NoTornReads(t *testing.T) {
	rb, err := New(Config{Capacity: 16, Mode: Single})
	require.NoError(t, err)

	consumer := rb.NewConsumer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 10_000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			_, payload, err := rb.Next(ctx, consumer)
			require.NoError(t, err)
			assert.Equal(t, i, payload.(int))
		}
	}()

	for i := 0; i < n; i++ {
		_, err := rb.Publish(ctx, i)
		require.NoError(t, err)
	}
	<-done
}

// TestRingBuffer_MultiProducerFIFO exercises spec.md §8 scenario S7 at a
// reduced scale: several producers publish into a shared multi-producer ring
// with a single consumer, which must observe exactly producers*perProducer
// items with each producer's own sequence preserved in order.
func TestRingBuffer_MultiProducerFIFO(t *testing.T) {
	const producers = 4
	const perProducer = 5_000

	rb, err := New(Config{Capacity: 1024, Mode: Multi})
	require.NoError(t, err)
	consumer := rb.NewConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type item struct {
		producer int
		seq      int
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := rb.Publish(ctx, item{producer: p, seq: i})
				require.NoError(t, err)
			}
		}(p)
	}

	total := producers * perProducer
	lastSeqByProducer := make([]int, producers)
	for i := range lastSeqByProducer {
		lastSeqByProducer[i] = -1
	}
	received := 0
	for received < total {
		_, payload, err := rb.Next(ctx, consumer)
		require.NoError(t, err)
		it := payload.(item)
		assert.Greater(t, it.seq, lastSeqByProducer[it.producer], "producer %d FIFO violated", it.producer)
		lastSeqByProducer[it.producer] = it.seq
		received++
	}

	wg.Wait()
	assert.Equal(t, total, received)
	stats := rb.Stats()
	assert.Equal(t, int64(total), stats.Published)
	assert.Equal(t, int64(total), stats.Consumed)
}

func TestRingBuffer_ConsumerGatesProducer(t *testing.T) {
	rb, err := New(Config{Capacity: 2, Mode: Single})
	require.NoError(t, err)
	consumer := rb.NewConsumer()

	ctx := context.Background()
	_, err = rb.Publish(ctx, "a")
	require.NoError(t, err)
	_, err = rb.Publish(ctx, "b")
	require.NoError(t, err)

	blockedCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = rb.Publish(blockedCtx, "c")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "producer must stall rather than overwrite an unread slot")

	_, payload, err := rb.Next(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, "a", payload)

	_, err = rb.Publish(ctx, "c")
	assert.NoError(t, err, "producer proceeds once the consumer frees a slot")
}

package channel_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/transport/channel"
	"github.com/stretchr/testify/require"
)

func TestQueue_SendReceiveRoundTrip(t *testing.T) {
	q := channel.New(channel.Config{BufferSize: 4})

	require.NoError(t, q.Send(context.Background(), "hello"))
	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello", got)
}

func TestQueue_DropWhenFullReturnsErrFull(t *testing.T) {
	q := channel.New(channel.Config{BufferSize: 1, DropWhenFull: true})

	require.NoError(t, q.Send(context.Background(), "first"))
	err := q.Send(context.Background(), "second")
	require.ErrorIs(t, err, channel.ErrFull)
	require.Equal(t, int64(1), q.Stats().Dropped)
}

func TestQueue_BlockingSendUnblocksOnReceive(t *testing.T) {
	q := channel.New(channel.Config{BufferSize: 1})
	require.NoError(t, q.Send(context.Background(), "first"))

	done := make(chan error, 1)
	go func() {
		done <- q.Send(context.Background(), "second")
	}()

	select {
	case <-done:
		t.Fatal("blocking send returned before queue had room")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Receive(context.Background())
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocking send never unblocked")
	}
}

func TestQueue_CloseDrainsBufferedThenErrClosed(t *testing.T) {
	q := channel.New(channel.Config{BufferSize: 2})
	require.NoError(t, q.Send(context.Background(), "a"))
	require.NoError(t, q.Send(context.Background(), "b"))
	require.NoError(t, q.Close())

	got, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got)

	got, err = q.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b", got)

	_, err = q.Receive(context.Background())
	require.ErrorIs(t, err, channel.ErrClosed)

	err = q.Send(context.Background(), "c")
	require.ErrorIs(t, err, channel.ErrClosed)
}

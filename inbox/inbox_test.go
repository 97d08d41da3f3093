package inbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/inbox"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestEngine_DiscardsDuplicateMessage(t *testing.T) {
	store := memory.NewInboxStorage()
	e := inbox.New(store)

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return nil, nil
	}
	handler := e.Decorator()(terminal)

	env := message.Envelope{MessageID: "msg-1", Name: "OrderPlaced"}
	_, err := handler(context.Background(), env, nil)
	require.NoError(t, err)

	_, err = handler(context.Background(), env, nil)
	require.ErrorIs(t, err, inbox.ErrDuplicate)
	require.Equal(t, 1, calls)
}

func TestEngine_DifferentMessagesBothHandled(t *testing.T) {
	store := memory.NewInboxStorage()
	e := inbox.New(store)

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return nil, nil
	}
	handler := e.Decorator()(terminal)

	_, err := handler(context.Background(), message.Envelope{MessageID: "msg-1"}, nil)
	require.NoError(t, err)
	_, err = handler(context.Background(), message.Envelope{MessageID: "msg-2"}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestPurger_RemovesExpiredRecords(t *testing.T) {
	store := memory.NewInboxStorage()
	_, err := store.TryInsert(context.Background(), "msg-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	p := inbox.NewPurger(store, 5*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = p.Start(ctx)

	removed, err := store.Purge(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, removed, "purger should already have swept it")
}

package transaction_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/transaction"
	"github.com/stretchr/testify/require"
)

type recordingManager struct {
	committed    bool
	rolledBack   bool
	fnWasInvoked bool
}

func (m *recordingManager) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	m.fnWasInvoked = true
	err := fn(ctx)
	if err != nil {
		m.rolledBack = true
		return err
	}
	m.committed = true
	return nil
}

func TestDecorator_CommitsOnSuccess(t *testing.T) {
	mgr := &recordingManager{}
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return "done", nil
	}
	decorated := transaction.Decorator(mgr)(terminal)

	result, err := decorated(context.Background(), message.Envelope{}, nil)
	require.NoError(t, err)
	require.Equal(t, "done", result)
	require.True(t, mgr.committed)
	require.False(t, mgr.rolledBack)
}

func TestDecorator_RollsBackOnError(t *testing.T) {
	mgr := &recordingManager{}
	boom := errors.New("boom")
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return nil, boom
	}
	decorated := transaction.Decorator(mgr)(terminal)

	_, err := decorated(context.Background(), message.Envelope{}, nil)
	require.ErrorIs(t, err, boom)
	require.True(t, mgr.rolledBack)
	require.False(t, mgr.committed)
}

func TestNoopManager_InvokesDirectly(t *testing.T) {
	var mgr transaction.NoopManager
	called := false
	err := mgr.WithinTransaction(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

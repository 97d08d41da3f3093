package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/dmitrymomot/heromessaging/observability"
)

func TestRecorder_Decorator_PassesThroughSuccess(t *testing.T) {
	rec, err := observability.New()
	require.NoError(t, err)

	terminal := dispatcher.Next(func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return "ok", nil
	})
	wrapped := rec.Decorator()(terminal)

	result, err := wrapped(context.Background(), message.New(message.KindCommand, struct{}{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRecorder_Decorator_PropagatesFailure(t *testing.T) {
	rec, err := observability.New()
	require.NoError(t, err)

	boom := errors.New("boom")
	terminal := dispatcher.Next(func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return nil, boom
	})
	wrapped := rec.Decorator()(terminal)

	_, err = wrapped(context.Background(), message.New(message.KindEvent, struct{}{}), nil)
	assert.ErrorIs(t, err, boom)
}

package idempotency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/idempotency"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/stretchr/testify/require"
)

type chargeCard struct{ OrderID string }

func TestEngine_CachesSuccessfulResult(t *testing.T) {
	store := idempotency.NewMemoryStore()
	engine := idempotency.New(store, idempotency.WithPolicy(idempotency.Policy{SuccessTTL: time.Hour}))

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return "charged", nil
	}
	handler := engine.Decorator()(terminal)

	env := message.New(message.KindCommand, chargeCard{OrderID: "order-1"})
	payload := chargeCard{OrderID: "order-1"}

	r1, err := handler(context.Background(), env, payload)
	require.NoError(t, err)
	require.Equal(t, "charged", r1)

	r2, err := handler(context.Background(), env, payload)
	require.NoError(t, err)
	require.Equal(t, "charged", r2)
	require.Equal(t, 1, calls, "second call must be served from cache, not re-executed")
}

func TestEngine_DefaultKeyDedupesRedeliveryByMessageID(t *testing.T) {
	store := idempotency.NewMemoryStore()
	engine := idempotency.New(store)

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return nil, nil
	}
	handler := engine.Decorator()(terminal)

	// Same envelope (and therefore the same MessageID) delivered twice,
	// simulating an at-least-once redelivery.
	env := message.New(message.KindCommand, struct{}{})
	_, _ = handler(context.Background(), env, struct{}{})
	_, _ = handler(context.Background(), env, struct{}{})
	require.Equal(t, 1, calls, "redelivery of the same MessageID must be deduped by default")
}

func TestEngine_DistinctMessageIDsAlwaysExecute(t *testing.T) {
	store := idempotency.NewMemoryStore()
	engine := idempotency.New(store)

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return nil, nil
	}
	handler := engine.Decorator()(terminal)

	_, _ = handler(context.Background(), message.New(message.KindCommand, struct{}{}), struct{}{})
	_, _ = handler(context.Background(), message.New(message.KindCommand, struct{}{}), struct{}{})
	require.Equal(t, 2, calls, "two distinct envelopes must not be deduped against each other")
}

func TestEngine_CacheFailuresRespectsClassifier(t *testing.T) {
	store := idempotency.NewMemoryStore()
	validationErr := errors.New("validation failed")
	engine := idempotency.New(store,
		idempotency.WithPolicy(idempotency.Policy{CacheFailures: true, FailureTTL: time.Hour}),
		idempotency.WithClassifier(idempotency.AlwaysCacheable),
	)

	calls := 0
	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		calls++
		return nil, validationErr
	}
	handler := engine.Decorator()(terminal)

	env := message.New(message.KindCommand, chargeCard{OrderID: "order-2"})
	payload := chargeCard{OrderID: "order-2"}

	_, err := handler(context.Background(), env, payload)
	require.ErrorIs(t, err, validationErr)

	_, err = handler(context.Background(), env, payload)
	require.ErrorIs(t, err, validationErr)
	require.Equal(t, 1, calls, "cached failure must not re-execute the handler")
}

func TestNewPolicy_RejectsNonPositiveTTLs(t *testing.T) {
	_, err := idempotency.NewPolicy(0, time.Hour, true)
	require.Error(t, err)

	_, err = idempotency.NewPolicy(time.Hour, -time.Second, true)
	require.Error(t, err)

	p, err := idempotency.NewPolicy(time.Hour, time.Minute, true)
	require.NoError(t, err)
	require.Equal(t, time.Hour, p.SuccessTTL)
}

func TestEngine_AsDispatcherDecorator(t *testing.T) {
	store := idempotency.NewMemoryStore()
	businessKey := func(_ context.Context, _ message.Envelope, payload any) string {
		return payload.(chargeCard).OrderID
	}
	engine := idempotency.New(store, idempotency.WithKeyGenerator(businessKey))

	d := dispatcher.New(dispatcher.WithCommandDecorators(engine.Decorator()))
	calls := 0
	d.RegisterCommand(dispatcher.NewCommandHandler(func(ctx context.Context, cmd chargeCard) error {
		calls++
		return nil
	}))

	require.NoError(t, d.Send(context.Background(), chargeCard{OrderID: "order-3"}))
	require.NoError(t, d.Send(context.Background(), chargeCard{OrderID: "order-3"}))
	require.Equal(t, 1, calls)
}

package saga_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrymomot/heromessaging/clock"
	"github.com/dmitrymomot/heromessaging/saga"
	"github.com/dmitrymomot/heromessaging/serializer"
	"github.com/dmitrymomot/heromessaging/storage/memory"
	"github.com/stretchr/testify/require"
)

type orderData struct {
	OrderID    string
	PaymentRef string
	Reserved   bool
	Charged    bool
}

const (
	stateNew       saga.State = "New"
	statePaid      saga.State = "Paid"
	stateShipped   saga.State = "Shipped"
	stateCancelled saga.State = "Cancelled"

	eventPaymentReceived saga.EventType = "PaymentReceived"
	eventShipped         saga.EventType = "Shipped"
)

func orderDefinition(reserveErr, chargeErr error) saga.Definition[orderData] {
	return saga.Definition[orderData]{
		Name:         "OrderFulfillment",
		InitialState: stateNew,
		Transitions: map[saga.State]map[saga.EventType]saga.Transition[orderData]{
			stateNew: {
				eventPaymentReceived: {
					Steps: []saga.Step[orderData]{
						{
							Name: "reserve_inventory",
							Action: func(_ context.Context, d *orderData, _ any) error {
								if reserveErr != nil {
									return reserveErr
								}
								d.Reserved = true
								return nil
							},
							Compensate: func(_ context.Context, d *orderData, _ any) error {
								d.Reserved = false
								return nil
							},
						},
						{
							Name: "charge_card",
							Action: func(_ context.Context, d *orderData, _ any) error {
								if chargeErr != nil {
									return chargeErr
								}
								d.Charged = true
								return nil
							},
						},
					},
					NextState: statePaid,
					Timeout:   time.Hour,
				},
			},
			statePaid: {
				eventShipped: {
					Guard: func(d *orderData, _ any) bool {
						return d.Charged
					},
					NextState: stateShipped,
				},
				saga.EventTimeout: {
					NextState: stateCancelled,
				},
			},
		},
	}
}

func TestOrchestrator_FullLifecycleTransitionsState(t *testing.T) {
	repo := memory.NewSagaRepository()
	orch := saga.New(orderDefinition(nil, nil), repo, serializer.NewJSON())

	ctx := context.Background()
	require.NoError(t, orch.Begin(ctx, "order-1", orderData{OrderID: "order-1"}))

	require.NoError(t, orch.Handle(ctx, "order-1", eventPaymentReceived, nil))
	state, data, err := orch.StateOf(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, statePaid, state)
	require.True(t, data.Reserved)
	require.True(t, data.Charged)

	require.NoError(t, orch.Handle(ctx, "order-1", eventShipped, nil))
	state, _, err = orch.StateOf(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, stateShipped, state)
}

func TestOrchestrator_RejectsEventWithoutTransitionFromCurrentState(t *testing.T) {
	repo := memory.NewSagaRepository()
	orch := saga.New(orderDefinition(nil, nil), repo, serializer.NewJSON())

	ctx := context.Background()
	require.NoError(t, orch.Begin(ctx, "order-2", orderData{OrderID: "order-2"}))

	err := orch.Handle(ctx, "order-2", eventShipped, nil)
	require.ErrorIs(t, err, saga.ErrNoTransition)
}

func TestOrchestrator_StepFailureTriggersLIFOCompensation(t *testing.T) {
	repo := memory.NewSagaRepository()
	chargeErr := errors.New("card declined")
	orch := saga.New(orderDefinition(nil, chargeErr), repo, serializer.NewJSON())

	ctx := context.Background()
	require.NoError(t, orch.Begin(ctx, "order-3", orderData{OrderID: "order-3"}))

	err := orch.Handle(ctx, "order-3", eventPaymentReceived, nil)
	require.ErrorContains(t, err, "charge_card")

	state, data, err := orch.StateOf(ctx, "order-3")
	require.NoError(t, err)
	require.Equal(t, saga.StateFailed, state, "step failure must persist the instance as Failed")
	require.False(t, data.Reserved, "reserve_inventory must have been compensated")
	require.False(t, data.Charged, "charge_card never succeeded")
}

func TestOrchestrator_AutoCreatesInstanceOnFirstAcceptedEvent(t *testing.T) {
	repo := memory.NewSagaRepository()
	orch := saga.New(orderDefinition(nil, nil), repo, serializer.NewJSON())

	ctx := context.Background()
	// No Begin call: the first event for this correlation ID must create a
	// new instance at InitialState before processing it.
	require.NoError(t, orch.Handle(ctx, "order-5", eventPaymentReceived, nil))

	state, data, err := orch.StateOf(ctx, "order-5")
	require.NoError(t, err)
	require.Equal(t, statePaid, state)
	require.True(t, data.Charged)
}

func TestOrchestrator_AutoCreateRejectsEventNotAcceptedAtInitial(t *testing.T) {
	repo := memory.NewSagaRepository()
	orch := saga.New(orderDefinition(nil, nil), repo, serializer.NewJSON())

	ctx := context.Background()
	err := orch.Handle(ctx, "order-6", eventShipped, nil)
	require.ErrorIs(t, err, saga.ErrNoTransition)
}

func TestOrchestrator_TimeoutSweepDeliversSyntheticEvent(t *testing.T) {
	repo := memory.NewSagaRepository()
	vc := clock.NewVirtual(time.Now())
	orch := saga.New(orderDefinition(nil, nil), repo, serializer.NewJSON(), saga.WithClock[orderData](vc))

	ctx := context.Background()
	require.NoError(t, orch.Begin(ctx, "order-4", orderData{OrderID: "order-4"}))
	require.NoError(t, orch.Handle(ctx, "order-4", eventPaymentReceived, nil))

	sweeper := saga.NewSweeper(repo, orch, saga.WithSweeperClock(vc), saga.WithSweepInterval(5*time.Millisecond))
	vc.Advance(2 * time.Hour)

	runCtx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = sweeper.Start(runCtx)

	require.Eventually(t, func() bool {
		swept, _ := sweeper.Stats()
		return swept >= 1
	}, time.Second, time.Millisecond)

	state, _, err := orch.StateOf(context.Background(), "order-4")
	require.NoError(t, err)
	require.Equal(t, stateCancelled, state)
}

package dispatcher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrymomot/heromessaging/dispatcher"
	"github.com/dmitrymomot/heromessaging/message"
	"github.com/stretchr/testify/require"
)

type CreateWidget struct{ Name string }
type GetWidgetCount struct{}
type WidgetCreated struct{ Name string }

func TestDispatcher_SendRoutesToRegisteredHandler(t *testing.T) {
	d := dispatcher.New()
	var got string
	d.RegisterCommand(dispatcher.NewCommandHandler(func(ctx context.Context, cmd CreateWidget) error {
		got = cmd.Name
		return nil
	}))

	require.NoError(t, d.Send(context.Background(), CreateWidget{Name: "bolt"}))
	require.Equal(t, "bolt", got)
	require.EqualValues(t, 1, d.Stats().Sent)
}

func TestDispatcher_SendUnknownCommand(t *testing.T) {
	d := dispatcher.New()
	err := d.Send(context.Background(), CreateWidget{Name: "bolt"})
	require.ErrorIs(t, err, dispatcher.ErrHandlerNotFound)
	require.EqualValues(t, 1, d.Stats().Failed)
}

func TestDispatcher_RegisterCommandDuplicatePanics(t *testing.T) {
	d := dispatcher.New()
	h := dispatcher.NewCommandHandler(func(ctx context.Context, cmd CreateWidget) error { return nil })
	d.RegisterCommand(h)
	require.Panics(t, func() { d.RegisterCommand(h) })
}

func TestDispatcher_QueryReturnsTypedResult(t *testing.T) {
	d := dispatcher.New()
	d.RegisterQuery(dispatcher.NewQueryHandler(func(ctx context.Context, q GetWidgetCount) (int, error) {
		return 42, nil
	}))

	count, err := dispatcher.Query[int](context.Background(), d, GetWidgetCount{})
	require.NoError(t, err)
	require.Equal(t, 42, count)
}

func TestDispatcher_PublishFansOutAndAggregatesErrors(t *testing.T) {
	d := dispatcher.New()
	calls := 0
	d.RegisterEvent(dispatcher.NewEventHandler(func(ctx context.Context, e WidgetCreated) error {
		calls++
		return nil
	}))
	boom := errors.New("boom")
	d.RegisterEvent(dispatcher.NewEventHandler(func(ctx context.Context, e WidgetCreated) error {
		calls++
		return boom
	}))

	err := d.Publish(context.Background(), WidgetCreated{Name: "bolt"})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 2, calls)
}

func TestDispatcher_PublishNoHandlersIsNoop(t *testing.T) {
	d := dispatcher.New()
	require.NoError(t, d.Publish(context.Background(), WidgetCreated{Name: "bolt"}))
}

type widgetEvent interface{ widgetEvent() }

func (WidgetCreated) widgetEvent() {}

type WidgetDeleted struct{ Name string }

func (WidgetDeleted) widgetEvent() {}

func TestDispatcher_PublishRoutesByInterfaceAssignability(t *testing.T) {
	d := dispatcher.New()
	var seenByInterface []string
	d.RegisterEvent(dispatcher.NewEventHandler(func(ctx context.Context, e widgetEvent) error {
		seenByInterface = append(seenByInterface, "interface")
		return nil
	}))

	concreteCalls := 0
	d.RegisterEvent(dispatcher.NewEventHandler(func(ctx context.Context, e WidgetCreated) error {
		concreteCalls++
		return nil
	}))

	require.NoError(t, d.Publish(context.Background(), WidgetCreated{Name: "bolt"}))
	require.NoError(t, d.Publish(context.Background(), WidgetDeleted{Name: "nut"}))

	require.Equal(t, 1, concreteCalls, "concrete-type handler must only fire for its exact type")
	require.Equal(t, []string{"interface", "interface"}, seenByInterface,
		"interface-registered handler must fire for every assignable concrete type")
}

func TestDispatcher_DecoratorsWrapInDeclaredOrder(t *testing.T) {
	var trace []string
	traceDecorator := func(label string) dispatcher.Decorator {
		return func(next dispatcher.Next) dispatcher.Next {
			return func(ctx context.Context, env message.Envelope, payload any) (any, error) {
				trace = append(trace, label+":in")
				result, err := next(ctx, env, payload)
				trace = append(trace, label+":out")
				return result, err
			}
		}
	}

	d := dispatcher.New(dispatcher.WithCommandDecorators(
		traceDecorator("outer"),
		traceDecorator("inner"),
	))
	d.RegisterCommand(dispatcher.NewCommandHandler(func(ctx context.Context, cmd CreateWidget) error {
		trace = append(trace, "handler")
		return nil
	}))

	require.NoError(t, d.Send(context.Background(), CreateWidget{Name: "bolt"}))
	require.Equal(t, []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}, trace)
}

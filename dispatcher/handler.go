package dispatcher

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dmitrymomot/heromessaging/message"
)

// typeNameOf mirrors message.NameOf but operates on a reflect.Type directly,
// for deriving a handler's registered name from its type parameter rather
// than from a live instance (the zero value of an interface type carries no
// runtime type reflect.TypeOf can recover).
func typeNameOf(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// concreteType strips pointer indirection from t, so a handler registered
// for T matches a payload published as either T or *T.
func concreteType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// CommandHandler processes exactly one command type, registered 1:1 by name.
type CommandHandler interface {
	Name() string
	Handle(ctx context.Context, payload any) error
}

// commandHandlerFunc adapts a typed command function into a CommandHandler,
// generalizing core/command.HandlerFunc[T].
type commandHandlerFunc[T any] struct {
	name string
	fn   func(context.Context, T) error
}

// NewCommandHandler derives the command's name from T via message.NameOf and
// wraps fn so the dispatcher can invoke it through the untyped CommandHandler
// interface without the caller writing a type switch.
func NewCommandHandler[T any](fn func(context.Context, T) error) CommandHandler {
	var zero T
	return &commandHandlerFunc[T]{name: message.NameOf(zero), fn: fn}
}

func (h *commandHandlerFunc[T]) Name() string { return h.name }

func (h *commandHandlerFunc[T]) Handle(ctx context.Context, payload any) error {
	cmd, ok := payload.(T)
	if !ok {
		return fmt.Errorf("%w: expected %s, got %T", ErrQueryResultType, h.name, payload)
	}
	return h.fn(ctx, cmd)
}

// QueryHandler answers exactly one query type, registered 1:1 by name, and
// returns its result as any; the generic Query[R] wrapper asserts it back to
// the caller's requested R.
type QueryHandler interface {
	Name() string
	Handle(ctx context.Context, payload any) (any, error)
}

type queryHandlerFunc[Q, R any] struct {
	name string
	fn   func(context.Context, Q) (R, error)
}

// NewQueryHandler derives the query's name from Q and wraps fn so its
// concrete result type R is erased to any at the registry boundary and
// restored by Query[R] at the call site.
func NewQueryHandler[Q, R any](fn func(context.Context, Q) (R, error)) QueryHandler {
	var zero Q
	return &queryHandlerFunc[Q, R]{name: message.NameOf(zero), fn: fn}
}

func (h *queryHandlerFunc[Q, R]) Name() string { return h.name }

func (h *queryHandlerFunc[Q, R]) Handle(ctx context.Context, payload any) (any, error) {
	q, ok := payload.(Q)
	if !ok {
		return nil, fmt.Errorf("%w: expected %s, got %T", ErrQueryResultType, h.name, payload)
	}
	return h.fn(ctx, q)
}

// EventHandler reacts to an event type. Unlike commands and queries, many
// EventHandlers may be registered for the same name (spec §4.1 fan-out).
// Type reports the handler's declared type parameter, letting the
// dispatcher route by concrete-type exact match when Type is a concrete
// type, or by assignability when Type is an interface.
type EventHandler interface {
	Name() string
	Type() reflect.Type
	Handle(ctx context.Context, payload any) error
}

type eventHandlerFunc[T any] struct {
	name string
	typ  reflect.Type
	fn   func(context.Context, T) error
}

// NewEventHandler derives the event's routing type from its type parameter
// T, matching core/event.NewHandlerFunc's shape. T may be a concrete event
// type (registered for exact-type routing) or an interface/base type
// (registered for assignability routing), per dispatcher.Publish.
func NewEventHandler[T any](fn func(context.Context, T) error) EventHandler {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	return &eventHandlerFunc[T]{name: typeNameOf(typ), typ: typ, fn: fn}
}

func (h *eventHandlerFunc[T]) Name() string       { return h.name }
func (h *eventHandlerFunc[T]) Type() reflect.Type { return h.typ }

func (h *eventHandlerFunc[T]) Handle(ctx context.Context, payload any) error {
	evt, ok := payload.(T)
	if !ok {
		return fmt.Errorf("%w: expected %s, got %T", ErrQueryResultType, h.name, payload)
	}
	return h.fn(ctx, evt)
}

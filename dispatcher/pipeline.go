// Package dispatcher is the front door command/query/event processing runs
// through: registration, routing by message.NameOf, and a decorator chain
// generalizing core/command.Decorator[T] and core/event.Decorator[T] to a
// single non-generic pipeline shared by all three message kinds, since
// cross-cutting concerns (observability, resilience, transaction,
// idempotency, batching) don't need to know the payload's static type.
package dispatcher

import (
	"context"

	"github.com/dmitrymomot/heromessaging/message"
)

// Next is the signature every pipeline stage wraps. Terminal invokes the
// registered handler; everything above it is a Decorator closing over Next.
type Next func(ctx context.Context, env message.Envelope, payload any) (any, error)

// Decorator wraps a Next to add cross-cutting behavior, mirroring
// core/command.Decorator[T]'s "function wrapping a function" shape but
// dropping the generic parameter so one chain serves commands, queries, and
// events alike.
type Decorator func(Next) Next

// ApplyDecorators composes decorators around terminal so the first decorator
// in the list is the outermost wrapper, exactly as
// core/command.ApplyDecorators documents: decorators[0] runs first.
//
// HeroMessaging's canonical order is Observability, Resilience, Transaction,
// Idempotency, Batching, then the Terminal handler invocation.
func ApplyDecorators(terminal Next, decorators ...Decorator) Next {
	next := terminal
	for i := len(decorators) - 1; i >= 0; i-- {
		next = decorators[i](next)
	}
	return next
}

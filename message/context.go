package message

import (
	"context"
	"time"
)

// currentCtxKey is the task-local slot holding the Envelope presently being
// handled. Entering a handler pushes onto this logical stack; any Send or
// Publish issued from inside that handler's scope stamps CausationID from it.
type currentCtxKey struct{}

// WithCurrent returns a child context recording env as the message currently
// being processed. The parent's current envelope, if any, is shadowed but not
// lost: restoring happens automatically because contexts are immutable and
// the handler's original ctx is what the caller resumes with on return.
func WithCurrent(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, currentCtxKey{}, env)
}

// Current returns the Envelope presently being processed in ctx, if any.
func Current(ctx context.Context) (Envelope, bool) {
	env, ok := ctx.Value(currentCtxKey{}).(Envelope)
	return env, ok
}

// Derive stamps a new Envelope's causation and correlation from whatever
// message is current in ctx, satisfying the Causation invariant (spec §8.2):
// a message published from within a handler for M carries
// CausationID == M.MessageID and inherits M.CorrelationID.
func Derive(ctx context.Context, env Envelope) Envelope {
	if current, ok := Current(ctx); ok {
		env.CausationID = current.MessageID
		if env.CorrelationID == "" {
			env.CorrelationID = current.CorrelationID
		}
	}
	return env
}

type startProcessingCtxKey struct{}

// WithStartProcessingTime attaches the processing start time to ctx for
// handler-duration metrics, mirroring core/command.WithStartProcessingTime.
func WithStartProcessingTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startProcessingCtxKey{}, t)
}

// StartProcessingTime extracts the processing start time from ctx, returning
// the zero time if it was never set.
func StartProcessingTime(ctx context.Context) time.Time {
	t, _ := ctx.Value(startProcessingCtxKey{}).(time.Time)
	return t
}

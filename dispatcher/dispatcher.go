package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/heromessaging/message"
	"go.uber.org/multierr"
)

// eventInterfaceBinding pairs an interface/base reflect.Type with the
// EventHandler registered against it, for Publish's assignability fallback.
type eventInterfaceBinding struct {
	typ     reflect.Type
	handler EventHandler
}

// Stats mirrors core/command.Stats and core/event's processed/failed
// counters, generalized across all three message kinds.
type Stats struct {
	Sent      uint64
	Queried   uint64
	Published uint64
	Failed    uint64
}

// Dispatcher is the single front door for commands, queries, and events. It
// owns the handler registries and the decorator chain every dispatch runs
// through, generalizing core/command.Processor and core/event.Publisher into
// one component the way spec.md's dispatcher module requires.
type Dispatcher struct {
	mu              sync.RWMutex
	commandHandlers map[string]CommandHandler
	queryHandlers   map[string]QueryHandler

	// eventHandlers routes by exact concrete type; eventInterfaceHandlers
	// routes by assignability, checked for every event in addition to its
	// concrete-type handlers (spec §4.1: concrete type first, then declared
	// interface/base assignability).
	eventHandlers          map[reflect.Type][]EventHandler
	eventInterfaceHandlers []eventInterfaceBinding

	commandDecorators []Decorator
	queryDecorators   []Decorator
	eventDecorators   []Decorator

	logger *slog.Logger

	sent      atomic.Uint64
	queried   atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// New builds a Dispatcher with a discard-handler logger by default, matching
// core/command.NewProcessor's "logger defaults to slog.Default()" pattern
// generalized to a no-op default per the ambient-stack convention.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		commandHandlers: make(map[string]CommandHandler),
		queryHandlers:   make(map[string]QueryHandler),
		eventHandlers:   make(map[reflect.Type][]EventHandler),
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithCommandDecorators installs the decorator chain every Send call runs
// through, outermost first (Observability, Resilience, Transaction,
// Idempotency, Batching per the canonical order).
func WithCommandDecorators(decorators ...Decorator) Option {
	return func(d *Dispatcher) { d.commandDecorators = decorators }
}

// WithQueryDecorators installs the decorator chain every Query call runs
// through.
func WithQueryDecorators(decorators ...Decorator) Option {
	return func(d *Dispatcher) { d.queryDecorators = decorators }
}

// WithEventDecorators installs the decorator chain every Publish fan-out call
// runs through, applied once per registered handler.
func WithEventDecorators(decorators ...Decorator) Option {
	return func(d *Dispatcher) { d.eventDecorators = decorators }
}

// RegisterCommand registers h for its command name. Panics on duplicate
// registration, matching core/command.Processor.Register's documented
// behavior (a routing conflict is a programming error, not a runtime one).
func (d *Dispatcher) RegisterCommand(h CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.commandHandlers[h.Name()]; exists {
		panic(fmt.Sprintf("dispatcher: %s: %s", ErrDuplicateHandler, h.Name()))
	}
	d.commandHandlers[h.Name()] = h
}

// RegisterQuery registers h for its query name. Panics on duplicate
// registration, same rationale as RegisterCommand.
func (d *Dispatcher) RegisterQuery(h QueryHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.queryHandlers[h.Name()]; exists {
		panic(fmt.Sprintf("dispatcher: %s: %s", ErrDuplicateHandler, h.Name()))
	}
	d.queryHandlers[h.Name()] = h
}

// RegisterEvent appends h to the handlers for its declared type. Multiple
// handlers per type are expected (fan-out, spec §4.1). A handler built with
// an interface or base type as its NewEventHandler type parameter is routed
// by assignability instead of exact-type equality: Publish invokes it for
// any event whose concrete type satisfies that interface, in addition to
// every handler registered for the event's own concrete type.
func (d *Dispatcher) RegisterEvent(h EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := h.Type()
	if t.Kind() == reflect.Interface {
		d.eventInterfaceHandlers = append(d.eventInterfaceHandlers, eventInterfaceBinding{typ: t, handler: h})
		return
	}
	t = concreteType(t)
	d.eventHandlers[t] = append(d.eventHandlers[t], h)
}

// Send dispatches a command synchronously through the command decorator
// chain to its single registered handler.
func (d *Dispatcher) Send(ctx context.Context, cmd any) error {
	name := message.NameOf(cmd)
	env := message.Derive(ctx, message.New(message.KindCommand, cmd))
	ctx = message.WithCurrent(ctx, env)

	d.mu.RLock()
	handler, exists := d.commandHandlers[name]
	decorators := d.commandDecorators
	d.mu.RUnlock()

	d.sent.Add(1)
	if !exists {
		d.failed.Add(1)
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}

	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return nil, handler.Handle(ctx, payload)
	}

	_, err := ApplyDecorators(terminal, decorators...)(ctx, env, cmd)
	if err != nil {
		d.failed.Add(1)
	}
	return err
}

// Query dispatches q synchronously and asserts the handler's result to R.
func Query[R any](ctx context.Context, d *Dispatcher, q any) (R, error) {
	var zero R
	name := message.NameOf(q)
	env := message.Derive(ctx, message.New(message.KindQuery, q))
	ctx = message.WithCurrent(ctx, env)

	d.mu.RLock()
	handler, exists := d.queryHandlers[name]
	decorators := d.queryDecorators
	d.mu.RUnlock()

	d.queried.Add(1)
	if !exists {
		d.failed.Add(1)
		return zero, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}

	terminal := func(ctx context.Context, env message.Envelope, payload any) (any, error) {
		return handler.Handle(ctx, payload)
	}

	result, err := ApplyDecorators(terminal, decorators...)(ctx, env, q)
	if err != nil {
		d.failed.Add(1)
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(R)
	if !ok {
		d.failed.Add(1)
		return zero, fmt.Errorf("%w: %s", ErrQueryResultType, name)
	}
	return typed, nil
}

// Publish fans evt out to every handler registered for its concrete type,
// plus every handler registered for an interface/base type evt's concrete
// type satisfies, running each through the event decorator chain
// independently. Errors from multiple handlers are aggregated with
// multierr, matching the teacher's go.uber.org/multierr usage for aggregate
// results; a single handler's panic or error never prevents the others from
// running.
func (d *Dispatcher) Publish(ctx context.Context, evt any) error {
	env := message.Derive(ctx, message.New(message.KindEvent, evt))
	ctx = message.WithCurrent(ctx, env)

	evtType := concreteType(reflect.TypeOf(evt))

	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.eventHandlers[evtType]...)
	if evtType != nil {
		for _, b := range d.eventInterfaceHandlers {
			if evtType.AssignableTo(b.typ) {
				handlers = append(handlers, b.handler)
			}
		}
	}
	decorators := d.eventDecorators
	d.mu.RUnlock()

	d.published.Add(1)
	if len(handlers) == 0 {
		return nil
	}

	var errs error
	for _, h := range handlers {
		terminal := func(ctx context.Context, env message.Envelope, payload any) (_ any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("dispatcher: event handler panicked: %v", r)
				}
			}()
			return nil, h.Handle(ctx, payload)
		}
		if _, err := ApplyDecorators(terminal, decorators...)(ctx, env, evt); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", h.Name(), err))
		}
	}
	if errs != nil {
		d.failed.Add(1)
	}
	return errs
}

// Stats returns current dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:      d.sent.Load(),
		Queried:   d.queried.Load(),
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
	}
}

// Healthcheck reports whether the dispatcher has any registered handlers at
// all, mirroring the teacher's Healthcheck convention of a cheap readiness
// signal rather than a deep dependency probe.
func (d *Dispatcher) Healthcheck(_ context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.commandHandlers) == 0 && len(d.queryHandlers) == 0 &&
		len(d.eventHandlers) == 0 && len(d.eventInterfaceHandlers) == 0 {
		return ErrNoHandlersRegistered
	}
	return nil
}

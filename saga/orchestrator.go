package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dmitrymomot/heromessaging/clock"
	"github.com/dmitrymomot/heromessaging/serializer"
	"github.com/dmitrymomot/heromessaging/storageport"
)

// StateFailed is the terminal state a saga instance is persisted under when
// a transition's steps fail and compensation has run.
const StateFailed State = "Failed"

// Orchestrator drives saga instances of one Definition[S] through their
// state machine, persisting via storageport.SagaRepository with optimistic
// concurrency.
type Orchestrator[S any] struct {
	def        Definition[S]
	repo       storageport.SagaRepository
	serializer serializer.Serializer
	clock      clock.Clock
	logger     *slog.Logger

	maxConflictRetries int
}

// Option configures an Orchestrator.
type Option[S any] func(*Orchestrator[S])

// WithClock overrides the real-time clock.
func WithClock[S any](c clock.Clock) Option[S] {
	return func(o *Orchestrator[S]) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger[S any](logger *slog.Logger) Option[S] {
	return func(o *Orchestrator[S]) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConflictRetries bounds how many attempts Handle makes at a
// transition, the first included, while each ends in
// storageport.ErrVersionConflict. Default 3.
func WithMaxConflictRetries[S any](n int) Option[S] {
	return func(o *Orchestrator[S]) {
		if n > 0 {
			o.maxConflictRetries = n
		}
	}
}

// New builds an Orchestrator for def, persisting through repo and
// (de)serializing saga data with ser.
func New[S any](def Definition[S], repo storageport.SagaRepository, ser serializer.Serializer, opts ...Option[S]) *Orchestrator[S] {
	o := &Orchestrator[S]{
		def:                def,
		repo:               repo,
		serializer:         ser,
		clock:              clock.New(),
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxConflictRetries: 3,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Begin creates a new saga instance in its Definition's InitialState. Most
// callers don't need this: Handle auto-creates an instance at InitialState
// the first time an event arrives for a correlation ID with no existing
// saga, provided InitialState accepts that event type. Begin remains useful
// when the initial data must be populated before any event is processed.
func (o *Orchestrator[S]) Begin(ctx context.Context, correlationID string, initial S) error {
	data, err := o.serializer.Serialize(initial)
	if err != nil {
		return fmt.Errorf("saga: serialize initial data: %w", err)
	}
	instance := &storageport.SagaInstance{
		CorrelationID: correlationID,
		SagaName:      o.def.Name,
		CurrentState:  string(o.def.InitialState),
		Data:          data,
		ContentType:   o.serializer.ContentType(),
		Version:       1,
		CreatedAt:     o.clock.Now(),
	}
	return o.repo.Save(ctx, instance)
}

// Handle processes event of eventType against the saga instance identified
// by correlationID, running its Transition's Steps and persisting the
// result with optimistic-concurrency retry.
func (o *Orchestrator[S]) Handle(ctx context.Context, correlationID string, eventType EventType, event any) error {
	for attempt := 0; attempt < o.maxConflictRetries; attempt++ {
		err := o.handleOnce(ctx, correlationID, eventType, event)
		if err == nil {
			return nil
		}
		if err == storageport.ErrVersionConflict {
			continue
		}
		return err
	}
	return fmt.Errorf("saga: exceeded %d conflict retries for %s", o.maxConflictRetries, correlationID)
}

func (o *Orchestrator[S]) handleOnce(ctx context.Context, correlationID string, eventType EventType, event any) error {
	instance, err := o.repo.Load(ctx, correlationID)
	if err != nil {
		if !errors.Is(err, storageport.ErrSagaNotFound) {
			return err
		}
		instance, err = o.createAtInitial(ctx, correlationID, eventType)
		if err != nil {
			return err
		}
	}
	if instance.Completed {
		return ErrAlreadyCompleted
	}

	var data S
	if err := o.serializer.Deserialize(instance.Data, &data); err != nil {
		return fmt.Errorf("saga: deserialize instance data: %w", err)
	}

	state := State(instance.CurrentState)
	transitions, ok := o.def.Transitions[state]
	if !ok {
		return fmt.Errorf("%w: state=%s event=%s", ErrNoTransition, state, eventType)
	}
	transition, ok := transitions[eventType]
	if !ok {
		return fmt.Errorf("%w: state=%s event=%s", ErrNoTransition, state, eventType)
	}

	if transition.Guard != nil && !transition.Guard(&data, event) {
		return ErrGuardRejected
	}

	if stepErr := runSteps(ctx, o.logger, correlationID, transition.Steps, &data, event); stepErr != nil {
		instance.CurrentState = string(StateFailed)
		instance.Version++
		if encoded, encErr := o.serializer.Serialize(data); encErr == nil {
			instance.Data = encoded
		}
		if saveErr := o.repo.Save(ctx, instance); saveErr != nil {
			o.logger.ErrorContext(ctx, "saga: failed to persist Failed state after step failure",
				slog.String("correlation_id", correlationID), slog.Any("error", saveErr))
		}
		return stepErr
	}

	encoded, err := o.serializer.Serialize(data)
	if err != nil {
		return fmt.Errorf("saga: serialize updated data: %w", err)
	}

	instance.CurrentState = string(transition.NextState)
	instance.Data = encoded
	instance.Version++
	if transition.Timeout > 0 {
		due := o.clock.Now().Add(transition.Timeout)
		instance.TimeoutAt = &due
	} else {
		instance.TimeoutAt = nil
	}

	return o.repo.Save(ctx, instance)
}

// createAtInitial persists a new instance at the saga's InitialState if
// eventType is accepted there: "if absent and the event is accepted by the
// Initial state, create a new instance at Initial". Returns ErrNoTransition
// if InitialState has no transition for eventType.
func (o *Orchestrator[S]) createAtInitial(ctx context.Context, correlationID string, eventType EventType) (*storageport.SagaInstance, error) {
	if _, ok := o.def.Transitions[o.def.InitialState][eventType]; !ok {
		return nil, fmt.Errorf("%w: state=%s event=%s", ErrNoTransition, o.def.InitialState, eventType)
	}

	var zero S
	data, err := o.serializer.Serialize(zero)
	if err != nil {
		return nil, fmt.Errorf("saga: serialize initial data: %w", err)
	}
	instance := &storageport.SagaInstance{
		CorrelationID: correlationID,
		SagaName:      o.def.Name,
		CurrentState:  string(o.def.InitialState),
		Data:          data,
		ContentType:   o.serializer.ContentType(),
		Version:       1,
		CreatedAt:     o.clock.Now(),
	}
	// Returned unwrapped: a version-1 Save that loses a creation race yields
	// ErrVersionConflict, which Handle's retry loop compares by equality and
	// retries, reloading the winner's instance instead of erroring out.
	if err := o.repo.Save(ctx, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// runSteps executes steps in order, compensating previously successful
// steps in LIFO order if one fails.
func runSteps[S any](ctx context.Context, logger *slog.Logger, correlationID string, steps []Step[S], data *S, event any) error {
	completed := make([]Step[S], 0, len(steps))
	for _, step := range steps {
		if err := step.Action(ctx, data, event); err != nil {
			compensate(ctx, logger, correlationID, completed, data, event)
			return fmt.Errorf("saga: step %q failed: %w", step.Name, err)
		}
		completed = append(completed, step)
	}
	return nil
}

// compensate runs completed's Compensate functions in LIFO order, best
// effort: a compensation failure is logged and does not stop the unwind of
// earlier steps.
func compensate[S any](ctx context.Context, logger *slog.Logger, correlationID string, completed []Step[S], data *S, event any) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, data, event); err != nil {
			logger.ErrorContext(ctx, "saga: compensation failed, continuing unwind",
				slog.String("correlation_id", correlationID), slog.String("step", step.Name), slog.Any("error", err))
		}
	}
}

// StateOf returns the current state and data of a saga instance without
// processing any event, for inspection/testing.
func (o *Orchestrator[S]) StateOf(ctx context.Context, correlationID string) (State, S, error) {
	var zero S
	instance, err := o.repo.Load(ctx, correlationID)
	if err != nil {
		return "", zero, err
	}
	var data S
	if err := o.serializer.Deserialize(instance.Data, &data); err != nil {
		return "", zero, err
	}
	return State(instance.CurrentState), data, nil
}

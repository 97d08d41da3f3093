package dispatcher

import "errors"

var (
	// ErrHandlerNotFound is returned when no handler is registered for a
	// command or query name.
	ErrHandlerNotFound = errors.New("dispatcher: handler not found")

	// ErrDuplicateHandler's message is part of the panic RegisterCommand and
	// RegisterQuery raise when a handler already exists for the same message
	// name. Commands and queries are 1:1; events are 1:N and never trigger
	// this panic.
	ErrDuplicateHandler = errors.New("dispatcher: duplicate handler")

	// ErrQueryResultType is returned by Query when the handler's result
	// cannot be asserted to the caller's requested type R.
	ErrQueryResultType = errors.New("dispatcher: query result type mismatch")

	// ErrNoHandlersRegistered is returned by Healthcheck when nothing has
	// been registered yet.
	ErrNoHandlersRegistered = errors.New("dispatcher: no handlers registered")
)

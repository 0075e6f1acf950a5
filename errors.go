package infinitic

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("infinitic: no store configured")
	ErrStoreClosed = errors.New("infinitic: store closed")

	// Transport errors.
	ErrNoTransport     = errors.New("infinitic: no transport configured")
	ErrTransportClosed = errors.New("infinitic: transport closed")

	// Not found errors.
	ErrStateNotFound = errors.New("infinitic: entity state not found")
	ErrDLQNotFound   = errors.New("infinitic: dlq entry not found")

	// Conflict errors.
	ErrStateExists = errors.New("infinitic: entity state already exists")
	ErrConflict    = errors.New("infinitic: concurrent state modification")

	// Message errors.
	ErrUnknownMessage = errors.New("infinitic: unknown message variant")
	ErrInvalidMessage = errors.New("infinitic: invalid message")

	// State errors.
	ErrInvalidTransition = errors.New("infinitic: invalid status transition")

	// Task registry errors.
	ErrTaskNotRegistered = errors.New("infinitic: task not registered")
	ErrInvalidTaskName   = errors.New("infinitic: invalid task name")
	ErrMultipleDividers  = errors.New("infinitic: task name uses the method divider more than once")

	// Configuration errors.
	ErrNotBuilt      = errors.New("infinitic: node was not built by engine.Build")
	ErrUnknownDriver = errors.New("infinitic: unknown driver")
	ErrUnknownKind   = errors.New("infinitic: unknown entity kind")
)

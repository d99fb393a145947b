package sensor

import "errors"

// Hub errors. Use errors.Is to check for these; returned errors wrap them
// with the sensor and driver detail.
var (
	// ErrNotFound is returned when a key is not in the latest scan or an
	// identifier resolves to no session.
	ErrNotFound = errors.New("sensor not found")

	// ErrResourceExhausted is returned when every channel is in use.
	ErrResourceExhausted = errors.New("no channel available")

	// ErrConnection is returned when a channel cannot be opened or has faulted.
	ErrConnection = errors.New("sensor connection error")

	// ErrNotConnected is returned when reading from a sensor with no session.
	ErrNotConnected = errors.New("sensor not connected")

	// ErrNoDataYet is returned when a session has not decoded a broadcast since it opened.
	ErrNoDataYet = errors.New("no data yet")

	// ErrUnsupported is returned when no connected sensor supports a command.
	ErrUnsupported = errors.New("operation not supported")

	// ErrInvalidArgument is returned for out of range command values.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrControlFailure is returned when a control command failed after retries.
	ErrControlFailure = errors.New("control command failed")

	// ErrInternal is returned when the hub is not running.
	ErrInternal = errors.New("internal error")
)

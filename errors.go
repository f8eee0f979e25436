package hudbus

import "errors"

var (
	ErrInvalidEventName = errors.New("hudbus: invalid event name")
	ErrNilHandler       = errors.New("hudbus: handler must not be nil")
	ErrBusClosed        = errors.New("hudbus: bus is closed")
	ErrHandlerPanic     = errors.New("hudbus: handler panicked")

	ErrObserverPoolShutdownTimeout = errors.New("hudbus: observer pool shutdown timeout")
)
